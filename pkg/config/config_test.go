package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/peer"
	"github.com/spf13/viper"
)

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{ID: 2350001},
		Server: ServerConfig{Port: 62031},
		Timers: TimersConfig{
			PingInterval:     15 * time.Second,
			PongTimeout:      30 * time.Second,
			LogoutDelay:      300 * time.Second,
			LoginRetry:       5 * time.Second,
			OptionsInterval:  10 * time.Second,
			PeerKeepalive:    15 * time.Second,
			SweepInterval:    60 * time.Second,
			StatsInterval:    60 * time.Second,
			StreamTimeout:    300 * time.Second,
			StreamQuiescence: 5 * time.Second,
			SlotHold:         3 * time.Second,
			ReadTimeout:      100 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestLoad_UsesDefaults_WhenNoFile(t *testing.T) {
	// Reset viper to avoid cross-test pollution
	viper.Reset()
	t.Setenv("DMR_GLOBAL_ID", "2350001")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	// Spot-check a few defaults
	if cfg.Global.ID != 2350001 {
		t.Errorf("expected Global.ID from environment, got %d", cfg.Global.ID)
	}
	if cfg.Server.Port != 62031 {
		t.Errorf("expected Server.Port default 62031, got %d", cfg.Server.Port)
	}
	if cfg.Server.UAExpiry != 900*time.Second {
		t.Errorf("expected Server.UAExpiry default 900s, got %v", cfg.Server.UAExpiry)
	}
	if cfg.Server.DisconnectTalkgroup != 4000 {
		t.Errorf("expected disconnect talkgroup 4000, got %d", cfg.Server.DisconnectTalkgroup)
	}
	if cfg.Timers.PingInterval != 15*time.Second || cfg.Timers.PongTimeout != 30*time.Second || cfg.Timers.LogoutDelay != 300*time.Second {
		t.Errorf("unexpected link timers: %+v", cfg.Timers)
	}
	if cfg.Timers.ReadTimeout != 100*time.Millisecond {
		t.Errorf("expected read timeout 100ms, got %v", cfg.Timers.ReadTimeout)
	}
	if cfg.Echo.Talkgroup != 9990 || cfg.Echo.Slot != 2 {
		t.Errorf("unexpected echo defaults: %+v", cfg.Echo)
	}
	if cfg.Master.Enabled {
		t.Error("expected master link disabled by default")
	}
	if cfg.RadioID.Enabled || cfg.RadioID.Interval != 24*time.Hour {
		t.Errorf("unexpected radioid defaults: %+v", cfg.RadioID)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected Logging.Level default info, got %q", cfg.Logging.Level)
	}
	if cfg.Metrics.Prometheus.Port != 9090 {
		t.Errorf("expected Prometheus.Port default 9090, got %d", cfg.Metrics.Prometheus.Port)
	}
}

func TestLoad_File(t *testing.T) {
	viper.Reset()

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
global:
  id: 2350001
  callsign: M0ABC
server:
  port: 62040
  acl: "DENY:1,1000-2000"
  ua_expiry: 10m
  static_talkgroups:
    - slot: 1
      talkgroup: 9
master:
  enabled: true
  address: master.example.net
  port: 62031
  passphrase: s3cret
  options: "TS1_1=91;TS2_1=3100;"
timers:
  pong_timeout: 45s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Global.Callsign != "M0ABC" || cfg.Server.Port != 62040 {
		t.Errorf("file values not applied: %+v %+v", cfg.Global, cfg.Server)
	}
	if cfg.Server.UAExpiry != 10*time.Minute {
		t.Errorf("UAExpiry = %v, want 10m", cfg.Server.UAExpiry)
	}
	want := []peer.StaticTalkgroup{{Slot: 1, Talkgroup: 9}}
	if len(cfg.Server.StaticTalkgroups) != 1 || cfg.Server.StaticTalkgroups[0] != want[0] {
		t.Errorf("StaticTalkgroups = %+v", cfg.Server.StaticTalkgroups)
	}
	if cfg.Timers.PongTimeout != 45*time.Second || cfg.Timers.PingInterval != 15*time.Second {
		t.Errorf("timers = %+v", cfg.Timers)
	}
	if got := cfg.MasterAddr(); got != "master.example.net:62031" {
		t.Errorf("MasterAddr = %q", got)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"missing global id", func(c *Config) { c.Global.ID = 0 }},
		{"server port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"bad acl", func(c *Config) { c.Server.ACL = "ALLOW:1" }},
		{"static talkgroup slot", func(c *Config) {
			c.Server.StaticTalkgroups = []peer.StaticTalkgroup{{Slot: 3, Talkgroup: 9}}
		}},
		{"static talkgroup id", func(c *Config) {
			c.Server.StaticTalkgroups = []peer.StaticTalkgroup{{Slot: 1, Talkgroup: 0x1000000}}
		}},
		{"master without address", func(c *Config) {
			c.Master = MasterConfig{Enabled: true, Port: 62031, Passphrase: "x"}
		}},
		{"master without passphrase", func(c *Config) {
			c.Master = MasterConfig{Enabled: true, Address: "m", Port: 62031}
		}},
		{"master bad options", func(c *Config) {
			c.Master = MasterConfig{Enabled: true, Address: "m", Port: 62031, Passphrase: "x", Options: "TS3=1"}
		}},
		{"zero timer", func(c *Config) { c.Timers.SlotHold = 0 }},
		{"pong shorter than ping", func(c *Config) { c.Timers.PongTimeout = 10 * time.Second }},
		{"echo slot", func(c *Config) { c.Echo = EchoConfig{Enabled: true, Talkgroup: 9990, Slot: 3, MaxFrames: 1} }},
		{"web port", func(c *Config) { c.Web = WebConfig{Enabled: true, Port: 0} }},
		{"mqtt broker", func(c *Config) { c.MQTT = MQTTConfig{Enabled: true} }},
		{"logging level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"database path", func(c *Config) { c.Database = DatabaseConfig{Enabled: true} }},
		{"radioid without database", func(c *Config) {
			c.Database.Enabled = false
			c.RadioID = RadioIDConfig{Enabled: true, URL: "http://example.invalid/user.csv"}
		}},
		{"radioid without url", func(c *Config) {
			c.Database = DatabaseConfig{Enabled: true, Path: "x.db"}
			c.RadioID = RadioIDConfig{Enabled: true}
		}},
	}

	if err := validate(validConfig()); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			if err := validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
