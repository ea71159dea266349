package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Device   DeviceConfig   `mapstructure:"device"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Codec    CodecConfig    `mapstructure:"codec"`
	AEC      AECConfig      `mapstructure:"aec"`
	Network  NetworkConfig  `mapstructure:"network"`
	Bus      BusConfig      `mapstructure:"bus"`
	Button   ButtonConfig   `mapstructure:"button"`
	Settings SettingsConfig `mapstructure:"settings"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Port          string `mapstructure:"port"`
	Mode          string `mapstructure:"mode"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	AdminPassword string `mapstructure:"admin_password"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type DeviceConfig struct {
	Room         string `mapstructure:"room"`
	Interface    string `mapstructure:"interface"`
	MAC          string `mapstructure:"mac"`
	Version      string `mapstructure:"version"`
	IsMobile     bool   `mapstructure:"is_mobile"`
	FallbackBeep bool   `mapstructure:"fallback_beep"`
}

type AudioConfig struct {
	InputKeyword  string `mapstructure:"input_keyword"`
	OutputKeyword string `mapstructure:"output_keyword"`
	MicShift      uint   `mapstructure:"mic_shift"`
	MicGain       int    `mapstructure:"mic_gain"`
	CaptureBits   int    `mapstructure:"capture_bits"`
}

type CodecConfig struct {
	Bitrate        int `mapstructure:"bitrate"`
	Complexity     int `mapstructure:"complexity"`
	PacketLossPerc int `mapstructure:"packet_loss_perc"`
}

type AECConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Taps    int     `mapstructure:"taps"`
	Step    float64 `mapstructure:"step"`
}

type NetworkConfig struct {
	Port           int           `mapstructure:"port"`
	MulticastGroup string        `mapstructure:"multicast_group"`
	TTL            int           `mapstructure:"ttl"`
	IGMPRefresh    time.Duration `mapstructure:"igmp_refresh"`
}

type BusConfig struct {
	URL       string        `mapstructure:"url"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	Reconnect time.Duration `mapstructure:"reconnect"`
}

type ButtonConfig struct {
	Port      string        `mapstructure:"port"`
	Line      string        `mapstructure:"line"`
	Debounce  time.Duration `mapstructure:"debounce"`
	LongPress time.Duration `mapstructure:"long_press"`
}

type SettingsConfig struct {
	Volume   int    `mapstructure:"volume"`
	Muted    bool   `mapstructure:"muted"`
	Priority int    `mapstructure:"priority"`
	DND      bool   `mapstructure:"dnd"`
	AGC      bool   `mapstructure:"agc"`
	LED      bool   `mapstructure:"led"`
	Target   string `mapstructure:"target"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var AppConfig Config

func LoadConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Booleans that default to true must be seeded before Unmarshal.
	viper.SetDefault("aec.enabled", true)
	viper.SetDefault("settings.agc", true)
	viper.SetDefault("settings.led", true)
	viper.SetDefault("settings.volume", 80)
	viper.SetDefault("metrics.enabled", true)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Config file not found, using defaults. Error: %v", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	ApplyDefaults(&AppConfig)

	log.Println("Configuration loaded successfully")
}

// ApplyDefaults fills every zero value that has a protocol or product default.
func ApplyDefaults(c *Config) {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Device.Room == "" {
		c.Device.Room = "Intercom"
	}
	if c.Device.Version == "" {
		c.Device.Version = "2.9.2"
	}
	if c.Audio.MicShift == 0 {
		c.Audio.MicShift = 12
	}
	if c.Audio.MicGain <= 0 {
		c.Audio.MicGain = 2
	}
	if c.Audio.CaptureBits != 16 {
		c.Audio.CaptureBits = 32
	}
	if c.Codec.Bitrate <= 0 {
		c.Codec.Bitrate = 32000
	}
	if c.Codec.Complexity <= 0 {
		c.Codec.Complexity = 5
	}
	if c.Codec.PacketLossPerc <= 0 {
		c.Codec.PacketLossPerc = 10
	}
	if c.AEC.Taps <= 0 {
		c.AEC.Taps = 512
	}
	if c.AEC.Step <= 0 {
		c.AEC.Step = 0.1
	}
	if c.Network.Port <= 0 {
		c.Network.Port = 5005
	}
	if c.Network.MulticastGroup == "" {
		c.Network.MulticastGroup = "239.255.0.100"
	}
	if c.Network.TTL <= 0 {
		c.Network.TTL = 1
	}
	if c.Network.IGMPRefresh <= 0 {
		c.Network.IGMPRefresh = 60 * time.Second
	}
	if c.Bus.Heartbeat <= 0 {
		c.Bus.Heartbeat = 30 * time.Second
	}
	if c.Bus.Reconnect <= 0 {
		c.Bus.Reconnect = 5 * time.Second
	}
	if c.Button.Line == "" {
		c.Button.Line = "cts"
	}
	if c.Button.Debounce <= 0 {
		c.Button.Debounce = 30 * time.Millisecond
	}
	if c.Button.LongPress <= 0 {
		c.Button.LongPress = time.Second
	}
	if c.Settings.Volume < 0 {
		c.Settings.Volume = 0
	}
	if c.Settings.Volume > 100 {
		c.Settings.Volume = 100
	}
	if c.Settings.Priority < 0 || c.Settings.Priority > 2 {
		c.Settings.Priority = 0
	}
	if c.Settings.Target == "" {
		c.Settings.Target = "All Rooms"
	}
}
