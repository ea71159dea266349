package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/pccr10001/intercom/internal/aec"
	"github.com/pccr10001/intercom/internal/agc"
	"github.com/pccr10001/intercom/internal/api"
	"github.com/pccr10001/intercom/internal/audio"
	"github.com/pccr10001/intercom/internal/auth"
	"github.com/pccr10001/intercom/internal/bus"
	"github.com/pccr10001/intercom/internal/button"
	"github.com/pccr10001/intercom/internal/codec"
	"github.com/pccr10001/intercom/internal/config"
	"github.com/pccr10001/intercom/internal/directory"
	"github.com/pccr10001/intercom/internal/logic"
	"github.com/pccr10001/intercom/internal/metrics"
	"github.com/pccr10001/intercom/internal/model"
	"github.com/pccr10001/intercom/internal/network"
	"github.com/pccr10001/intercom/internal/protocol"
	"github.com/pccr10001/intercom/internal/repository"
	"github.com/pccr10001/intercom/internal/session"
	"github.com/pccr10001/intercom/internal/settings"
	"github.com/pccr10001/intercom/pkg/logger"
)

const (
	linkPollInterval = 2 * time.Second
	statsInterval    = 5 * time.Second
	shutdownTimeout  = 5 * time.Second
	adminPasswordLen = 12
)

func main() {
	// 1. Load Config
	config.LoadConfig()
	cfg := &config.AppConfig

	// 2. Init Logger
	logger.InitLogger(cfg.Log.Level)
	logger.Log.Infof("Starting intercom %s...", cfg.Device.Version)

	if err := auth.SetSecret(cfg.Server.JWTSecret); err != nil {
		logger.Log.Fatalf("Failed to init auth secret: %v", err)
	}
	if cfg.Server.JWTSecret == "" {
		logger.Log.Warn("server.jwt_secret not set, tokens will not survive a restart")
	}

	// 3. Init Database
	db := initDB(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Identity
	ifi, id, err := deviceIdentity(cfg.Device)
	if err != nil {
		logger.Log.Fatalf("Failed to derive device id: %v", err)
	}
	ip := interfaceIPv4(ifi)
	logger.Log.Infof("Device id %s, room %q, ip %s", id, cfg.Device.Room, ip)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// 5. Peers and call history
	peerRepo := repository.NewPeerRepository(db)
	callRepo := repository.NewCallRepository(db)
	webhookRepo := repository.NewWebhookRepository(db)
	if err := peerRepo.MarkAllOffline(); err != nil {
		logger.Log.Warnf("Failed to reset peer presence: %v", err)
	}
	dir := directory.New(id, peerRepo)
	if peers, err := peerRepo.FindAll(); err == nil {
		dir.Load(peers)
	}
	webhooks := logic.NewWebhookService(webhookRepo)
	callLog := logic.NewCallLog(callRepo, webhooks, cfg.Device.Room)

	// 6. Audio plane
	store := settings.NewStore(initialSettings(cfg.Settings))
	transport, err := network.Open(network.Config{
		Port:        cfg.Network.Port,
		Group:       cfg.Network.MulticastGroup,
		TTL:         cfg.Network.TTL,
		Interface:   cfg.Device.Interface,
		IGMPRefresh: cfg.Network.IGMPRefresh,
	})
	if err != nil {
		logger.Log.Fatalf("Failed to open audio transport: %v", err)
	}
	defer transport.Close()
	if err := transport.Probe(); err != nil {
		logger.Log.Warnf("Multicast probe failed: %v", err)
	}

	queue := network.NewRxQueue(protocol.RxQueueDepth)
	deps := session.Deps{
		Net:      transport,
		Receiver: transport,
		Queue:    queue,
		Settings: store,
		Peers:    dir,
		Calls:    callLog,
		Metrics:  m,
	}
	closeAudio := openAudio(cfg, &deps)
	defer closeAudio()

	coord := session.New(session.Config{
		DeviceID:     id,
		Room:         cfg.Device.Room,
		IP:           ip,
		Version:      cfg.Device.Version,
		IsMobile:     cfg.Device.IsMobile,
		Heartbeat:    cfg.Bus.Heartbeat,
		FallbackBeep: cfg.Device.FallbackBeep,
	}, deps)

	// 7. Control plane
	g, ctx := errgroup.WithContext(ctx)
	if cfg.Bus.URL != "" {
		hub := bus.NewHubClient(bus.HubConfig{
			URL:       cfg.Bus.URL,
			ClientID:  id.String(),
			Reconnect: cfg.Bus.Reconnect,
			Will:      coord.Will(),
		})
		coord.Attach(hub)
		dir.Attach(hub)
		hub.OnConnect(coord.Announce)
		g.Go(func() error { return hub.Run(ctx) })
	} else {
		logger.Log.Warn("bus.url not set, running without a control-plane hub")
		local := bus.NewLocalBus()
		coord.Attach(local)
		dir.Attach(local)
		coord.Announce()
	}

	g.Go(func() error { return coord.Run(ctx) })
	g.Go(func() error { transport.RunMaintenance(ctx, linkPollInterval); return nil })
	if m != nil {
		g.Go(func() error { runStats(ctx, m, dir); return nil })
	}
	if cfg.Button.Port != "" {
		startButton(ctx, g, cfg.Button, coord)
	}

	// 8. Admin API
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	var metricsHandler http.Handler
	if m != nil {
		metricsHandler = m.Handler()
	}
	ih := api.NewIntercomHandler(coord, store, dir, callRepo, transport, queue.Drops)
	api.RegisterRoutes(r, db, ih, api.NewUserHandler(db), api.NewWebhookHandler(webhookRepo), metricsHandler)

	srv := &http.Server{Addr: cfg.Server.Port, Handler: r}
	g.Go(func() error {
		logger.Log.Infof("Server listening on %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Log.Fatalf("Intercom stopped: %v", err)
	}
	webhooks.Wait()
	logger.Log.Info("Intercom stopped")
}

func initDB(cfg *config.Config) *gorm.DB {
	var db *gorm.DB
	var err error

	driver := cfg.Database.Driver
	dsn := cfg.Database.DSN

	switch driver {
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	default:
		// Default to SQLite (pure Go)
		if dsn == "" {
			dsn = "intercom.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}

	if err != nil {
		logger.Log.Fatalf("Failed to connect database (%s): %v", driver, err)
	}

	if err := db.AutoMigrate(&model.User{}, &model.Peer{}, &model.CallRecord{}, &model.Webhook{}); err != nil {
		logger.Log.Fatalf("Failed to migrate database: %v", err)
	}

	var count int64
	db.Model(&model.User{}).Count(&count)
	if count == 0 {
		seedAdmin(db, cfg.Server.AdminPassword)
	}

	return db
}

func seedAdmin(db *gorm.DB, password string) {
	generated := password == ""
	if generated {
		const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
		ret := make([]byte, adminPasswordLen)
		for i := range ret {
			num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
			if err != nil {
				logger.Log.Fatalf("Failed to generate random password: %v", err)
			}
			ret[i] = chars[num.Int64()]
		}
		password = string(ret)
	}

	hash, err := api.HashPassword(password)
	if err != nil {
		logger.Log.Fatalf("Failed to hash password: %v", err)
	}

	admin := model.User{
		Username:     "admin",
		PasswordHash: hash,
		Role:         model.RoleAdmin,
	}
	if err := db.Create(&admin).Error; err != nil {
		logger.Log.Fatalf("Failed to create admin: %v", err)
	}
	if generated {
		logger.Log.Warnf("INITIAL ADMIN CREATED. Username: admin, Password: %s", password)
	} else {
		logger.Log.Info("Initial admin created from server.admin_password")
	}
}

func initialSettings(s config.SettingsConfig) settings.Snapshot {
	return settings.Snapshot{
		Volume:   s.Volume,
		Muted:    s.Muted,
		Priority: protocol.ClampPriority(uint8(s.Priority)),
		DND:      s.DND,
		AGC:      s.AGC,
		LED:      s.LED,
		Target:   s.Target,
	}
}

// deviceIdentity picks the interface whose MAC names this endpoint.
// device.mac overrides the hardware address but not the interface choice.
func deviceIdentity(dc config.DeviceConfig) (*net.Interface, protocol.DeviceID, error) {
	ifi, err := pickInterface(dc.Interface)
	if err != nil && dc.MAC == "" {
		return nil, protocol.DeviceID{}, err
	}
	var mac net.HardwareAddr
	if dc.MAC != "" {
		if mac, err = net.ParseMAC(dc.MAC); err != nil {
			return nil, protocol.DeviceID{}, fmt.Errorf("device.mac: %w", err)
		}
	} else {
		mac = ifi.HardwareAddr
	}
	id, err := protocol.DeviceIDFromMAC(mac)
	return ifi, id, err
}

func pickInterface(name string) (*net.Interface, error) {
	if name != "" {
		return net.InterfaceByName(name)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagLoopback != 0 || ifi.Flags&net.FlagUp == 0 || len(ifi.HardwareAddr) != 6 {
			continue
		}
		return ifi, nil
	}
	return nil, errors.New("no interface with a hardware address")
}

func interfaceIPv4(ifi *net.Interface) string {
	if ifi == nil {
		return ""
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if v4 := ipn.IP.To4(); v4 != nil {
				return v4.String()
			}
		}
	}
	return ""
}

// openAudio fills the audio collaborators of deps. A failure leaves the
// admin API running without an audio path.
func openAudio(cfg *config.Config, deps *session.Deps) func() {
	enc, err := codec.NewEncoder(codec.EncoderConfig{
		Bitrate:        cfg.Codec.Bitrate,
		Complexity:     cfg.Codec.Complexity,
		PacketLossPerc: cfg.Codec.PacketLossPerc,
	})
	if err != nil {
		logger.Log.Errorf("Failed to init Opus encoder: %v", err)
		return func() {}
	}
	dec, err := codec.NewDecoder()
	if err != nil {
		logger.Log.Errorf("Failed to init Opus decoder: %v", err)
		return func() {}
	}

	if err := audio.Initialize(); err != nil {
		logger.Log.Errorf("Failed to init audio: %v", err)
		return func() {}
	}
	capture, playback, err := audio.OpenDevices(audio.DeviceConfig{
		InputKeyword:  cfg.Audio.InputKeyword,
		OutputKeyword: cfg.Audio.OutputKeyword,
	})
	if err != nil {
		logger.Log.Errorf("Failed to open audio devices: %v", err)
		audio.Terminate()
		return func() {}
	}

	var canceller aec.Canceller
	if cfg.AEC.Enabled {
		canceller = aec.NewNLMS(cfg.AEC.Taps, cfg.AEC.Step)
	}
	bridge := aec.NewBridge(canceller)

	shift := cfg.Audio.MicShift
	if cfg.Audio.CaptureBits == 16 {
		shift = 0
	}
	mic := audio.NewMic(capture, shift, cfg.Audio.MicGain)
	if err := mic.Start(); err != nil {
		logger.Log.Errorf("Failed to start microphone: %v", err)
	} else {
		deps.Mic = mic
	}
	speaker := audio.NewSpeaker(playback, bridge)

	deps.Sink = speaker
	deps.Encoder = enc
	deps.Decoder = dec
	deps.AEC = bridge
	deps.AGC = agc.New()

	return func() {
		mic.Stop()
		mic.Close()
		speaker.Close()
		audio.Terminate()
	}
}

func startButton(ctx context.Context, g *errgroup.Group, bc config.ButtonConfig, ptt button.PTT) {
	src, err := button.OpenSerial(bc.Port, bc.Line)
	if err != nil {
		ports, _ := button.Ports()
		logger.Log.Errorf("PTT button disabled: %v (available ports: %s)", err, strings.Join(ports, ", "))
		return
	}
	w := button.NewWatcher(src, bc.Debounce, bc.LongPress)
	g.Go(func() error {
		defer src.Close()
		return w.Run(ctx)
	})
	g.Go(func() error {
		button.Dispatch(w.Events(), ptt)
		return nil
	})
	logger.Log.Infof("PTT button on %s (%s)", bc.Port, bc.Line)
}

func runStats(ctx context.Context, m *metrics.Metrics, dir *directory.Directory) {
	t := time.NewTicker(statsInterval)
	defer t.Stop()
	for {
		m.SetOnlinePeers(dir.OnlineCount())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
