// Command fioul-boiler infers the state of an oil boiler from its electrical
// power draw and publishes state, fuel and energy totals to MQTT.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sweeney/fioul-boiler/internal/accum"
	"github.com/sweeney/fioul-boiler/internal/config"
	"github.com/sweeney/fioul-boiler/internal/logic"
	"github.com/sweeney/fioul-boiler/internal/mqtt"
	"github.com/sweeney/fioul-boiler/internal/power"
	"github.com/sweeney/fioul-boiler/internal/status"
	"github.com/sweeney/fioul-boiler/internal/store"
	"github.com/sweeney/fioul-boiler/internal/web"
)

// Set by the build.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every subcommand resolves before it runs.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	config.SetDefaults(a.v)

	root := &cobra.Command{
		Use:               "fioul-boiler",
		Short:             "Infer oil boiler state and fuel consumption from electrical power.",
		Version:           version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		RunE:              a.runDaemon,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the daemon (default)",
			Args:  cobra.NoArgs,
			RunE:  a.runDaemon,
		},
		&cobra.Command{
			Use:   "print-state",
			Short: "Read the power source once, print the classified state and exit",
			Args:  cobra.NoArgs,
			RunE:  a.printState,
		},
		&cobra.Command{
			Use:   "totals",
			Short: "Print the persisted fuel and energy totals",
			Args:  cobra.NoArgs,
			RunE:  a.printTotals,
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration as YAML",
			Args:  cobra.NoArgs,
			RunE:  a.printConfig,
		},
	)
	return root
}

// setup resolves the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	if err := config.BindFlags(a.v, flags); err != nil {
		return err
	}
	configFile, _ := flags.GetString("config")
	envFile, _ := flags.GetString("env-file")

	cfg, err := config.Load(a.v, configFile, envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = config.NewLogger(os.Stderr, cfg.LogLevel)
	return nil
}

func (a *app) runDaemon(cmd *cobra.Command, _ []string) error {
	return run(cmd.Context(), a.cfg, a.logger)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	instanceID := uuid.NewString()
	startTime := time.Now()

	engine, err := logic.NewEngine(cfg.Params(), startTime)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	// Initialize store and restore the buckets
	st, err := store.Open(ctx, cfg.StoreBackend(), cfg.Store.DSN, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	acc := accum.New(st, loc, cfg.Store.Timeout, logger)
	acc.Restore(ctx)

	// Initialize power source
	source, err := openSource(cfg, instanceID, logger)
	if err != nil {
		return fmt.Errorf("init power source: %w", err)
	}
	defer source.Close()

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(mqtt.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    clientID(cfg.MQTT.ClientID, instanceID, ""),
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		BufferSize:  cfg.MQTT.BufferSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(startTime, statusConfig(cfg, instanceID))
	tracker.SetTotals(acc.Totals())
	tracker.SetMQTTConnected(publisher.IsConnected())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		logger.Error("failed to publish startup event", "error", err)
	} else {
		logger.Info("published startup event", "instance_id", instanceID)
	}
	if err := publisher.PublishTotals(acc.Totals()); err != nil {
		logger.Error("failed to publish restored totals", "error", err)
	}

	// Start HTTP status server
	if cfg.HTTP != "" {
		webCtx, stopWeb := context.WithCancel(ctx)
		defer stopWeb()
		srv := web.New(cfg.HTTP, tracker, logger)
		go func() {
			if err := srv.Run(webCtx); err != nil {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	logger.Info("started",
		"source", cfg.Power.Source,
		"store", cfg.StoreBackend(),
		"broker", cfg.MQTT.Broker,
		"tick", cfg.Tick,
		"debounce", cfg.Debounce,
		"lph_run", cfg.LPHRun,
		"heartbeat", cfg.Heartbeat,
	)

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	d := &daemon{
		source:       source,
		engine:       engine,
		acc:          acc,
		publisher:    publisher,
		mqttStatus:   publisher,
		tracker:      tracker,
		readTimeout:  cfg.Power.ReadTimeout,
		heartbeat:    cfg.Heartbeat,
		publishEvery: cfg.PublishInterval,
		logger:       logger,
		now:          time.Now,
	}
	return d.runLoop(ctx, ticker.C, sigCh)
}

// openSource builds the configured power source.
func openSource(cfg *config.Config, instanceID string, logger *slog.Logger) (power.Source, error) {
	switch cfg.Power.Source {
	case config.SourcePulse:
		return power.NewPulseSource(power.PulseConfig{
			Chip:         cfg.Power.PulseChip,
			Line:         cfg.Power.PulseLine,
			PulsesPerKWh: cfg.Power.PulsesPerKWh,
		}, logger)
	default:
		return power.NewMQTTSource(power.MQTTConfig{
			Broker:     cfg.MQTT.Broker,
			ClientID:   clientID(cfg.MQTT.ClientID, instanceID, "power"),
			Username:   cfg.MQTT.Username,
			Password:   cfg.MQTT.Password,
			Topic:      cfg.Power.Topic,
			Field:      cfg.Power.Field,
			StaleAfter: cfg.Power.StaleAfter,
		}, logger)
	}
}

// clientID suffixes base with the instance id, so every process has its own session.
func clientID(base, instanceID, role string) string {
	short := instanceID
	if len(short) > 8 {
		short = short[:8]
	}
	if role != "" {
		return base + "-" + role + "-" + short
	}
	return base + "-" + short
}

func statusConfig(cfg *config.Config, instanceID string) status.Config {
	return status.Config{
		InstanceID:        instanceID,
		TickMs:            cfg.Tick.Milliseconds(),
		DebounceMs:        cfg.Debounce.Milliseconds(),
		HeartbeatMs:       cfg.Heartbeat.Milliseconds(),
		PublishIntervalMs: cfg.PublishInterval.Milliseconds(),
		LPHRun:            cfg.LPHRun,
		KWhPerLiter:       cfg.KWhPerLiter,
		PowerSource:       cfg.Power.Source,
		Store:             string(cfg.StoreBackend()),
		Timezone:          cfg.Timezone,
		Broker:            cfg.MQTT.Broker,
		HTTPAddr:          cfg.HTTP,
		WSBroker:          cfg.MQTT.WSBroker,
		StateTopic:        mqtt.TopicsFor(cfg.MQTT.TopicPrefix).State,
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
