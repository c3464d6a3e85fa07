package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/peer"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Global   GlobalConfig   `mapstructure:"global"`
	Server   ServerConfig   `mapstructure:"server"`
	Master   MasterConfig   `mapstructure:"master"`
	Timers   TimersConfig   `mapstructure:"timers"`
	Echo     EchoConfig     `mapstructure:"echo"`
	Database DatabaseConfig `mapstructure:"database"`
	RadioID  RadioIDConfig  `mapstructure:"radioid"`
	Web      WebConfig      `mapstructure:"web"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// GlobalConfig identifies the local node
type GlobalConfig struct {
	ID       uint32 `mapstructure:"id"` // local node id, also used toward the master
	Callsign string `mapstructure:"callsign"`
}

// ServerConfig holds the repeater facing listener
type ServerConfig struct {
	Name                string                 `mapstructure:"name"`
	Description         string                 `mapstructure:"description"`
	IP                  string                 `mapstructure:"ip"`
	Port                int                    `mapstructure:"port"`
	Passphrase          string                 `mapstructure:"passphrase"`
	ACL                 string                 `mapstructure:"acl"` // e.g. DENY:1,1000-2000
	MaxPeers            int                    `mapstructure:"max_peers"`
	UAExpiry            time.Duration          `mapstructure:"ua_expiry"`
	DisconnectTalkgroup uint32                 `mapstructure:"disconnect_talkgroup"`
	StaticTalkgroups    []peer.StaticTalkgroup `mapstructure:"static_talkgroups"`
}

// MasterConfig holds the upstream master link and the repeater description
// sent to it
type MasterConfig struct {
	Enabled          bool                   `mapstructure:"enabled"`
	Address          string                 `mapstructure:"address"`
	Port             int                    `mapstructure:"port"`
	Passphrase       string                 `mapstructure:"passphrase"`
	Options          string                 `mapstructure:"options"`
	StaticTalkgroups []peer.StaticTalkgroup `mapstructure:"static_talkgroups"`

	// RPTC fields
	RXFreq      int     `mapstructure:"rx_freq"`
	TXFreq      int     `mapstructure:"tx_freq"`
	TXPower     int     `mapstructure:"tx_power"`
	ColorCode   int     `mapstructure:"color_code"`
	Latitude    float64 `mapstructure:"latitude"`
	Longitude   float64 `mapstructure:"longitude"`
	Height      int     `mapstructure:"height"`
	Location    string  `mapstructure:"location"`
	Description string  `mapstructure:"description"`
	Slots       int     `mapstructure:"slots"`
	URL         string  `mapstructure:"url"`
	SoftwareID  string  `mapstructure:"software_id"`
	PackageID   string  `mapstructure:"package_id"`
}

// TimersConfig holds every link, peer, stream and slot timer
type TimersConfig struct {
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongTimeout      time.Duration `mapstructure:"pong_timeout"`
	LogoutDelay      time.Duration `mapstructure:"logout_delay"`
	LoginRetry       time.Duration `mapstructure:"login_retry"`
	OptionsInterval  time.Duration `mapstructure:"options_interval"`
	PeerKeepalive    time.Duration `mapstructure:"peer_keepalive"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	StatsInterval    time.Duration `mapstructure:"stats_interval"`
	StreamTimeout    time.Duration `mapstructure:"stream_timeout"`
	StreamQuiescence time.Duration `mapstructure:"stream_quiescence"`
	SlotHold         time.Duration `mapstructure:"slot_hold"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
}

// EchoConfig holds the echo (parrot) talkgroup
type EchoConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Talkgroup uint32        `mapstructure:"talkgroup"`
	Slot      int           `mapstructure:"slot"`
	Delay     time.Duration `mapstructure:"delay"`
	MaxFrames int           `mapstructure:"max_frames"`
}

// DatabaseConfig holds the sqlite store
type DatabaseConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Path      string        `mapstructure:"path"`
	CallLog   bool          `mapstructure:"call_log"`
	Retention time.Duration `mapstructure:"retention"` // 0 keeps calls forever
}

// RadioIDConfig holds the radio id directory download
type RadioIDConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"`
}

// WebConfig holds web dashboard configuration
type WebConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	AuthRequired bool   `mapstructure:"auth_required"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
}

// MQTTConfig holds MQTT client configuration
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	QoS         byte   `mapstructure:"qos"`
	Retained    bool   `mapstructure:"retained"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"` // appended to instead of stdout when set
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled    bool             `mapstructure:"enabled"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig holds Prometheus metrics configuration
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Set defaults
	setDefaults()

	// Set config file
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/dmr-gateway")
	}

	// Environment variables, e.g. DMR_MASTER_ADDRESS
	viper.SetEnvPrefix("DMR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is OK, use defaults
		} else if os.IsNotExist(err) {
			// File explicitly specified but doesn't exist - that's also OK
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal to struct
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// MasterAddr returns the master address as host:port
func (c *Config) MasterAddr() string {
	return fmt.Sprintf("%s:%d", c.Master.Address, c.Master.Port)
}

// ListenAddr returns the repeater facing listen address as host:port
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.IP, c.Server.Port)
}

// setDefaults sets default configuration values
func setDefaults() {
	// Global defaults
	viper.SetDefault("global.id", 0)
	viper.SetDefault("global.callsign", "")

	// Server defaults
	viper.SetDefault("server.name", "DMR-Gateway")
	viper.SetDefault("server.description", "Homebrew DMR gateway")
	viper.SetDefault("server.ip", "0.0.0.0")
	viper.SetDefault("server.port", 62031)
	viper.SetDefault("server.passphrase", "")
	viper.SetDefault("server.acl", "")
	viper.SetDefault("server.max_peers", 0)
	viper.SetDefault("server.ua_expiry", "900s")
	viper.SetDefault("server.disconnect_talkgroup", 4000)

	// Master defaults
	viper.SetDefault("master.enabled", false)
	viper.SetDefault("master.port", 62031)
	viper.SetDefault("master.tx_power", 0)
	viper.SetDefault("master.color_code", 1)
	viper.SetDefault("master.slots", 4)
	viper.SetDefault("master.software_id", "dmr-gateway")
	viper.SetDefault("master.package_id", "dmr-gateway")

	// Timer defaults
	viper.SetDefault("timers.ping_interval", "15s")
	viper.SetDefault("timers.pong_timeout", "30s")
	viper.SetDefault("timers.logout_delay", "300s")
	viper.SetDefault("timers.login_retry", "5s")
	viper.SetDefault("timers.options_interval", "10s")
	viper.SetDefault("timers.peer_keepalive", "15s")
	viper.SetDefault("timers.sweep_interval", "60s")
	viper.SetDefault("timers.stats_interval", "60s")
	viper.SetDefault("timers.stream_timeout", "300s")
	viper.SetDefault("timers.stream_quiescence", "5s")
	viper.SetDefault("timers.slot_hold", "3s")
	viper.SetDefault("timers.read_timeout", "100ms")

	// Echo defaults
	viper.SetDefault("echo.enabled", true)
	viper.SetDefault("echo.talkgroup", 9990)
	viper.SetDefault("echo.slot", 2)
	viper.SetDefault("echo.delay", "2s")
	viper.SetDefault("echo.max_frames", 2000)

	// Database defaults
	viper.SetDefault("database.enabled", true)
	viper.SetDefault("database.path", "dmr-gateway.db")
	viper.SetDefault("database.call_log", true)
	viper.SetDefault("database.retention", "720h")

	// Radio id directory defaults
	viper.SetDefault("radioid.enabled", false)
	viper.SetDefault("radioid.url", "https://radioid.net/static/user.csv")
	viper.SetDefault("radioid.interval", "24h")

	// Web defaults
	viper.SetDefault("web.enabled", true)
	viper.SetDefault("web.host", "0.0.0.0")
	viper.SetDefault("web.port", 8080)
	viper.SetDefault("web.auth_required", false)

	// MQTT defaults
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.topic_prefix", "dmr/gateway")
	viper.SetDefault("mqtt.client_id", "dmr-gateway")
	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("mqtt.retained", false)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.prometheus.enabled", true)
	viper.SetDefault("metrics.prometheus.port", 9090)
	viper.SetDefault("metrics.prometheus.path", "/metrics")
}
