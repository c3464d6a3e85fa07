package config

import (
	"fmt"
	"strings"

	"github.com/dbehnke/dmr-gateway/pkg/peer"
	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

// validate validates the configuration
func validate(cfg *Config) error {
	// Validate global config
	if cfg.Global.ID == 0 {
		return fmt.Errorf("global.id is required")
	}

	// Validate server config
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Server.MaxPeers < 0 {
		return fmt.Errorf("server.max_peers must not be negative")
	}
	if cfg.Server.UAExpiry < 0 {
		return fmt.Errorf("server.ua_expiry must not be negative")
	}
	if cfg.Server.DisconnectTalkgroup > protocol.MaxID24Bit {
		return fmt.Errorf("server.disconnect_talkgroup must fit in 24 bits")
	}
	if _, err := peer.ParseACL(cfg.Server.ACL); err != nil {
		return fmt.Errorf("server.acl: %w", err)
	}
	if err := validateTalkgroups("server.static_talkgroups", cfg.Server.StaticTalkgroups); err != nil {
		return err
	}

	// Validate master config
	if cfg.Master.Enabled {
		if cfg.Master.Address == "" {
			return fmt.Errorf("master.address is required when the master link is enabled")
		}
		if cfg.Master.Port <= 0 || cfg.Master.Port > 65535 {
			return fmt.Errorf("master.port must be between 1 and 65535")
		}
		if cfg.Master.Passphrase == "" {
			return fmt.Errorf("master.passphrase is required when the master link is enabled")
		}
		if cfg.Master.Slots < 0 || cfg.Master.Slots > 9 {
			return fmt.Errorf("master.slots must be a single digit")
		}
		if _, err := peer.ParseOptions(cfg.Master.Options); err != nil {
			return fmt.Errorf("master.options: %w", err)
		}
		if err := validateTalkgroups("master.static_talkgroups", cfg.Master.StaticTalkgroups); err != nil {
			return err
		}
	}

	// Validate timers
	timers := map[string]int64{
		"ping_interval":     int64(cfg.Timers.PingInterval),
		"pong_timeout":      int64(cfg.Timers.PongTimeout),
		"logout_delay":      int64(cfg.Timers.LogoutDelay),
		"login_retry":       int64(cfg.Timers.LoginRetry),
		"options_interval":  int64(cfg.Timers.OptionsInterval),
		"peer_keepalive":    int64(cfg.Timers.PeerKeepalive),
		"sweep_interval":    int64(cfg.Timers.SweepInterval),
		"stats_interval":    int64(cfg.Timers.StatsInterval),
		"stream_timeout":    int64(cfg.Timers.StreamTimeout),
		"stream_quiescence": int64(cfg.Timers.StreamQuiescence),
		"slot_hold":         int64(cfg.Timers.SlotHold),
		"read_timeout":      int64(cfg.Timers.ReadTimeout),
	}
	for name, d := range timers {
		if d <= 0 {
			return fmt.Errorf("timers.%s must be positive", name)
		}
	}
	if cfg.Timers.PongTimeout <= cfg.Timers.PingInterval {
		return fmt.Errorf("timers.pong_timeout must be longer than timers.ping_interval")
	}

	// Validate echo config
	if cfg.Echo.Enabled {
		if cfg.Echo.Talkgroup == 0 || cfg.Echo.Talkgroup > protocol.MaxID24Bit {
			return fmt.Errorf("echo.talkgroup must be between 1 and %d", protocol.MaxID24Bit)
		}
		if cfg.Echo.Slot != protocol.Timeslot1 && cfg.Echo.Slot != protocol.Timeslot2 {
			return fmt.Errorf("echo.slot must be 1 or 2")
		}
		if cfg.Echo.MaxFrames <= 0 {
			return fmt.Errorf("echo.max_frames must be positive")
		}
	}

	// Validate database config
	if cfg.Database.Enabled && cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required when the database is enabled")
	}

	if cfg.RadioID.Enabled {
		if !cfg.Database.Enabled {
			return fmt.Errorf("radioid requires the database to be enabled")
		}
		if cfg.RadioID.URL == "" {
			return fmt.Errorf("radioid.url is required when radioid is enabled")
		}
	}

	// Validate web config
	if cfg.Web.Enabled {
		if cfg.Web.Port <= 0 || cfg.Web.Port > 65535 {
			return fmt.Errorf("web.port must be between 1 and 65535")
		}
	}

	// Validate MQTT config
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	// Validate logging config
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}

	// Validate metrics config
	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		if cfg.Metrics.Prometheus.Port <= 0 || cfg.Metrics.Prometheus.Port > 65535 {
			return fmt.Errorf("metrics.prometheus.port must be between 1 and 65535")
		}
	}

	return nil
}

func validateTalkgroups(key string, tgs []peer.StaticTalkgroup) error {
	perSlot := map[int]int{}
	for i, tg := range tgs {
		if tg.Slot != protocol.Timeslot1 && tg.Slot != protocol.Timeslot2 {
			return fmt.Errorf("%s[%d]: slot must be 1 or 2", key, i)
		}
		if tg.Talkgroup == 0 || tg.Talkgroup > protocol.MaxID24Bit {
			return fmt.Errorf("%s[%d]: talkgroup must be between 1 and %d", key, i, protocol.MaxID24Bit)
		}
		perSlot[tg.Slot]++
		if perSlot[tg.Slot] > peer.MaxStaticTalkgroups {
			return fmt.Errorf("%s: more than %d talkgroups on slot %d", key, peer.MaxStaticTalkgroups, tg.Slot)
		}
	}
	return nil
}
