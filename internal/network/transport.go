// Package network carries audio datagrams over UDP unicast and multicast.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/pccr10001/intercom/internal/protocol"
	"github.com/pccr10001/intercom/pkg/logger"
)

type Config struct {
	Port        int
	Group       string
	TTL         int
	Interface   string
	IGMPRefresh time.Duration
}

func DefaultConfig() Config {
	return Config{
		Port:        protocol.AudioPort,
		Group:       protocol.MulticastGroup,
		TTL:         protocol.MulticastTTL,
		IGMPRefresh: protocol.IGMPRefresh,
	}
}

// Stats are cumulative since Open.
type Stats struct {
	Sent      uint64 `json:"sent"`
	Failed    uint64 `json:"failed"`
	LastErrno int    `json:"last_errno"`
	RxPackets uint64 `json:"rx_packets"`
	RxShort   uint64 `json:"rx_short"`
}

// Transport owns one socket for sending and one bound to the audio port for
// receiving.
type Transport struct {
	cfg   Config
	log   *zap.SugaredLogger
	group *net.UDPAddr
	port  int

	send   *net.UDPConn
	sendPC *ipv4.PacketConn
	recv   *net.UDPConn
	recvPC *ipv4.PacketConn

	joinMu    sync.Mutex
	joinedIfi *net.Interface
	joined    bool

	sent      atomic.Uint64
	failed    atomic.Uint64
	lastErrno atomic.Int64
	rxPackets atomic.Uint64
	rxShort   atomic.Uint64

	closeOnce sync.Once
}

// Open creates both sockets and joins the multicast group. A failed join is
// logged, not fatal: unicast keeps working and the refresh loop retries.
func Open(cfg Config) (*Transport, error) {
	groupIP := net.ParseIP(cfg.Group).To4()
	if groupIP == nil || !groupIP.IsMulticast() {
		return nil, fmt.Errorf("invalid multicast group %q", cfg.Group)
	}

	t := &Transport{
		cfg:   cfg,
		log:   logger.Named("net"),
		group: &net.UDPAddr{IP: groupIP, Port: cfg.Port},
		port:  cfg.Port,
	}

	send, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("open send socket: %w", err)
	}
	t.send = send
	t.sendPC = ipv4.NewPacketConn(send)
	if err := t.sendPC.SetMulticastTTL(cfg.TTL); err != nil {
		t.log.Warnf("set multicast ttl: %v", err)
	}
	if err := t.sendPC.SetMulticastLoopback(false); err != nil {
		t.log.Warnf("disable multicast loopback: %v", err)
	}

	recv, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.Port})
	if err != nil {
		_ = send.Close()
		return nil, fmt.Errorf("bind audio port %d: %w", cfg.Port, err)
	}
	t.recv = recv
	t.recvPC = ipv4.NewPacketConn(recv)
	if cfg.Port == 0 {
		t.port = recv.LocalAddr().(*net.UDPAddr).Port
	}

	ifi := t.pickInterface()
	if ifi != nil {
		if err := t.sendPC.SetMulticastInterface(ifi); err != nil {
			t.log.Warnf("set multicast interface %s: %v", ifi.Name, err)
		}
	}
	if err := t.join(ifi); err != nil {
		t.log.Errorf("Failed to join multicast group %s: %v", cfg.Group, err)
	}
	return t, nil
}

// pickInterface returns the configured interface, else the first one that is
// up, not loopback, multicast capable and has an IPv4 address.
func (t *Transport) pickInterface() *net.Interface {
	if t.cfg.Interface != "" {
		ifi, err := net.InterfaceByName(t.cfg.Interface)
		if err != nil {
			t.log.Warnf("interface %s: %v", t.cfg.Interface, err)
			return nil
		}
		return ifi
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if hasIPv4(ifi) {
			return ifi
		}
	}
	return nil
}

func hasIPv4(ifi *net.Interface) bool {
	addrs, err := ifi.Addrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
			return true
		}
	}
	return false
}

// join adds membership on ifi and falls back to the wildcard interface.
func (t *Transport) join(ifi *net.Interface) error {
	t.joinMu.Lock()
	defer t.joinMu.Unlock()

	grp := &net.UDPAddr{IP: t.group.IP}
	if ifi != nil {
		if err := t.recvPC.JoinGroup(ifi, grp); err == nil {
			t.joinedIfi, t.joined = ifi, true
			t.log.Infof("[NET] multicast_join: group=%s port=%d iface=%s", t.cfg.Group, t.port, ifi.Name)
			return nil
		} else {
			t.log.Warnf("Failed to join multicast group on %s, trying any interface: %v", ifi.Name, err)
		}
	}
	if err := t.recvPC.JoinGroup(nil, grp); err != nil {
		t.joined = false
		return err
	}
	t.joinedIfi, t.joined = nil, true
	t.log.Infof("[NET] multicast_join: group=%s port=%d iface=any", t.cfg.Group, t.port)
	return nil
}

// Rejoin drops and re-adds the group membership. Routers expire membership
// they have not seen refreshed, and a link bounce loses it entirely.
func (t *Transport) Rejoin() error {
	t.joinMu.Lock()
	if t.joined {
		_ = t.recvPC.LeaveGroup(t.joinedIfi, &net.UDPAddr{IP: t.group.IP})
		t.joined = false
	}
	t.joinMu.Unlock()

	if err := t.join(t.pickInterface()); err != nil {
		t.log.Errorf("IGMP rejoin failed: %v", err)
		return err
	}
	t.log.Debugf("IGMP multicast group rejoined: %s", t.cfg.Group)
	return nil
}

func (t *Transport) Joined() bool {
	t.joinMu.Lock()
	defer t.joinMu.Unlock()
	return t.joined
}

// RunMaintenance refreshes the membership every IGMPRefresh and rejoins as
// soon as the interface comes back up. It returns when ctx is done.
func (t *Transport) RunMaintenance(ctx context.Context, linkPoll time.Duration) {
	refresh := t.cfg.IGMPRefresh
	if refresh <= 0 {
		refresh = protocol.IGMPRefresh
	}
	if linkPoll <= 0 {
		linkPoll = time.Second
	}
	refreshTicker := time.NewTicker(refresh)
	defer refreshTicker.Stop()
	linkTicker := time.NewTicker(linkPoll)
	defer linkTicker.Stop()

	wasUp := t.linkUp()
	for {
		select {
		case <-ctx.Done():
			return
		case <-refreshTicker.C:
			_ = t.Rejoin()
		case <-linkTicker.C:
			up := t.linkUp()
			if up && !wasUp {
				t.log.Info("Link up, rejoining multicast group")
				_ = t.Rejoin()
			}
			wasUp = up
		}
	}
}

func (t *Transport) linkUp() bool {
	return t.pickInterface() != nil
}

// Probe sends a single 0xAA byte to the group to exercise the send path.
// Receivers ignore datagrams shorter than a header.
func (t *Transport) Probe() error {
	if err := t.SendMulticast([]byte{protocol.ProbeByte}); err != nil {
		t.log.Errorf("TX socket boot test FAILED: %v", err)
		return err
	}
	t.log.Info("TX socket boot test OK (1 byte probe)")
	return nil
}

func (t *Transport) SendMulticast(b []byte) error {
	return t.sendTo(b, t.group)
}

func (t *Transport) SendUnicast(b []byte, ip string) error {
	addr := net.ParseIP(ip)
	if addr == nil {
		t.failed.Add(1)
		return fmt.Errorf("invalid unicast address %q", ip)
	}
	return t.sendTo(b, &net.UDPAddr{IP: addr, Port: t.port})
}

func (t *Transport) sendTo(b []byte, addr *net.UDPAddr) error {
	_, err := t.send.WriteToUDP(b, addr)
	if err != nil {
		t.failed.Add(1)
		var errno syscall.Errno
		if errors.As(err, &errno) {
			t.lastErrno.Store(int64(errno))
		}
		return err
	}
	t.sent.Add(1)
	return nil
}

// Receive reads datagrams until ctx is done, calling handle synchronously
// for every datagram of at least header length. buf passed to handle is
// reused; handle must copy what it keeps.
func (t *Transport) Receive(ctx context.Context, handle func(data []byte)) error {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = t.recv.SetReadDeadline(time.Now().Add(protocol.RecvTimeout))
		n, _, err := t.recv.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.log.Warnf("recvfrom: %v", err)
			continue
		}
		if n < protocol.HeaderLength {
			t.rxShort.Add(1)
			continue
		}
		t.rxPackets.Add(1)
		handle(buf[:n])
	}
}

func (t *Transport) Stats() Stats {
	return Stats{
		Sent:      t.sent.Load(),
		Failed:    t.failed.Load(),
		LastErrno: int(t.lastErrno.Load()),
		RxPackets: t.rxPackets.Load(),
		RxShort:   t.rxShort.Load(),
	}
}

func (t *Transport) LocalPort() int {
	return t.port
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.joinMu.Lock()
		if t.joined {
			_ = t.recvPC.LeaveGroup(t.joinedIfi, &net.UDPAddr{IP: t.group.IP})
			t.joined = false
		}
		t.joinMu.Unlock()
		err = errors.Join(t.recv.Close(), t.send.Close())
	})
	return err
}
