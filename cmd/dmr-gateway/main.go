package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/bridge"
	"github.com/dbehnke/dmr-gateway/pkg/config"
	"github.com/dbehnke/dmr-gateway/pkg/database"
	"github.com/dbehnke/dmr-gateway/pkg/echo"
	"github.com/dbehnke/dmr-gateway/pkg/logger"
	"github.com/dbehnke/dmr-gateway/pkg/master"
	"github.com/dbehnke/dmr-gateway/pkg/metrics"
	"github.com/dbehnke/dmr-gateway/pkg/mqtt"
	"github.com/dbehnke/dmr-gateway/pkg/network"
	"github.com/dbehnke/dmr-gateway/pkg/peer"
	"github.com/dbehnke/dmr-gateway/pkg/protocol"
	"github.com/dbehnke/dmr-gateway/pkg/radioid"
	"github.com/dbehnke/dmr-gateway/pkg/web"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

const retentionInterval = time.Hour

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("DMR-Gateway %s (%s, built %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validate {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	out, closeLog, err := logOutput(cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: out,
	})

	log.Info("Starting DMR-Gateway",
		logger.String("version", version),
		logger.String("build_time", buildTime),
		logger.String("config_file", *configFile),
		logger.Uint32("radio_id", cfg.Global.ID))

	web.SetVersionInfo(version, commit, buildTime)

	if err := run(cfg, log); err != nil {
		log.Error("DMR-Gateway stopped with error", logger.Error(err))
		closeLog()
		os.Exit(1)
	}

	log.Info("DMR-Gateway stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var wg sync.WaitGroup

	// Storage
	var repo *database.CallRepository
	var directory *database.SubscriberRepository
	if cfg.Database.Enabled {
		db, err := database.NewDB(database.Config{
			Path:            cfg.Database.Path,
			SoftwareVersion: version,
		}, log.WithComponent("database"))
		if err != nil {
			return fmt.Errorf("storage unavailable: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Warn("Failed to close database", logger.Error(err))
			}
		}()

		if cfg.Database.CallLog {
			repo = database.NewCallRepository(db.GetDB())
			if cfg.Database.Retention > 0 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					pruneCalls(ctx, repo, cfg.Database.Retention, log.WithComponent("database"))
				}()
			}
		}

		if cfg.RadioID.Enabled {
			directory = database.NewSubscriberRepository(db.GetDB())
			syncer := radioid.NewSyncer(radioid.Config{
				URL:      cfg.RadioID.URL,
				Interval: cfg.RadioID.Interval,
			}, directory, log)
			wg.Add(1)
			go func() {
				defer wg.Done()
				syncer.Start(ctx)
			}()
		}
	}

	defer wg.Wait()
	defer cancel()

	// Peers and routing state
	acl, err := peer.ParseACL(cfg.Server.ACL)
	if err != nil {
		return fmt.Errorf("invalid acl: %w", err)
	}
	selfStatic := append([]peer.StaticTalkgroup(nil), cfg.Master.StaticTalkgroups...)
	if cfg.Master.Options != "" {
		opts, err := peer.ParseOptions(cfg.Master.Options)
		if err != nil {
			return fmt.Errorf("invalid master options: %w", err)
		}
		selfStatic = append(selfStatic, opts.Static...)
	}

	registry := peer.NewRegistry(peer.RegistryConfig{
		SelfID:               cfg.Global.ID,
		Passphrase:           cfg.Server.Passphrase,
		ACL:                  acl,
		KeepaliveTimeout:     cfg.Timers.PeerKeepalive,
		SlotHold:             cfg.Timers.SlotHold,
		UAExpiry:             cfg.Server.UAExpiry,
		StaticTalkgroups:     cfg.Server.StaticTalkgroups,
		SelfStaticTalkgroups: selfStatic,
		MaxPeers:             cfg.Server.MaxPeers,
	})

	collector := metrics.NewCollector()
	components := network.Components{
		Registry: registry,
		Streams:  bridge.NewStreamTracker(cfg.Timers.StreamTimeout, cfg.Timers.StreamQuiescence),
		Metrics:  collector,
	}
	var store bridge.CallStore
	if repo != nil {
		store = repo
	}
	components.Calls = bridge.NewCallLogger(store, cfg.Timers.StreamQuiescence, log)
	if cfg.Echo.Enabled {
		components.Echo = echo.NewQueue(cfg.Echo.Delay, cfg.Echo.MaxFrames)
	}

	masterAddr := ""
	if cfg.Master.Enabled {
		masterAddr = cfg.MasterAddr()
		components.Link = master.NewLink(master.Config{
			Passphrase:      cfg.Master.Passphrase,
			Options:         cfg.Master.Options,
			Info:            repeaterInfo(cfg),
			PingInterval:    cfg.Timers.PingInterval,
			PongTimeout:     cfg.Timers.PongTimeout,
			LogoutDelay:     cfg.Timers.LogoutDelay,
			LoginRetry:      cfg.Timers.LoginRetry,
			OptionsInterval: cfg.Timers.OptionsInterval,
		}, registry.Self(), log)
	}

	srv := network.NewServer(network.Config{
		ListenAddr:    cfg.ListenAddr(),
		MasterAddr:    masterAddr,
		ReadTimeout:   cfg.Timers.ReadTimeout,
		SweepInterval: cfg.Timers.SweepInterval,
		StatsInterval: cfg.Timers.StatsInterval,
		Routing: bridge.Config{
			DisconnectTalkgroup: cfg.Server.DisconnectTalkgroup,
			EchoTalkgroup:       cfg.Echo.Talkgroup,
			EchoSlot:            cfg.Echo.Slot,
		},
	}, components, log)

	var handlers []network.Events

	// Prometheus metrics
	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		metricsServer := metrics.NewPrometheusServer(
			metrics.PrometheusConfig{
				Enabled: cfg.Metrics.Prometheus.Enabled,
				Port:    cfg.Metrics.Prometheus.Port,
				Path:    cfg.Metrics.Prometheus.Path,
			},
			collector,
			log,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Prometheus metrics server error", logger.Error(err))
			}
		}()
	}

	// MQTT events
	if cfg.MQTT.Enabled {
		publisher := mqtt.New(mqtt.Config{
			Enabled:     cfg.MQTT.Enabled,
			Broker:      cfg.MQTT.Broker,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			QoS:         cfg.MQTT.QoS,
			Retained:    cfg.MQTT.Retained,
		}, log)
		handlers = append(handlers, mqttEvents(publisher))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := publisher.Start(ctx); err != nil {
				if err != context.Canceled {
					log.Error("MQTT publisher error", logger.Error(err))
				}
				return
			}
			<-ctx.Done()
			publisher.Stop()
		}()
	}

	// Web dashboard
	if cfg.Web.Enabled {
		var calls web.CallStore
		if repo != nil {
			calls = repo
		}
		dashboard := web.NewServer(cfg.Web, srv, calls, log)
		if directory != nil {
			dashboard.SetSubscribers(directory)
		}
		handlers = append(handlers, dashboard.GetHub().Events())

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dashboard.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Web server error", logger.Error(err))
			}
		}()
	}

	srv.SetEventHandlers(combineEvents(handlers...))

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal",
			logger.String("signal", sig.String()))
		cancel()
		if err := <-errc; err != nil && err != context.Canceled {
			return err
		}
		return nil
	case err := <-errc:
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	}
}

// logOutput opens the log file for appending, stdout when path is empty
func logOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	return f, func() { once.Do(func() { _ = f.Close() }) }, nil
}

// repeaterInfo builds the RPTC description sent to the master
func repeaterInfo(cfg *config.Config) protocol.InfoPacket {
	m := cfg.Master
	return protocol.InfoPacket{
		Callsign:    cfg.Global.Callsign,
		RXFreq:      strconv.Itoa(m.RXFreq),
		TXFreq:      strconv.Itoa(m.TXFreq),
		TXPower:     fmt.Sprintf("%02d", m.TXPower),
		ColorCode:   fmt.Sprintf("%02d", m.ColorCode),
		Latitude:    fmt.Sprintf("%.4f", m.Latitude),
		Longitude:   fmt.Sprintf("%.4f", m.Longitude),
		Height:      fmt.Sprintf("%03d", m.Height),
		Location:    m.Location,
		Description: m.Description,
		Slots:       strconv.Itoa(m.Slots),
		URL:         m.URL,
		SoftwareID:  m.SoftwareID,
		PackageID:   m.PackageID,
	}
}

func pruneCalls(ctx context.Context, repo *database.CallRepository, retention time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		n, err := repo.DeleteOlderThan(time.Now().Add(-retention))
		if err != nil {
			log.Warn("Failed to prune call log", logger.Error(err))
		} else if n > 0 {
			log.Info("Pruned call log",
				logger.Int64("deleted", n),
				logger.Duration("retention", retention))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
