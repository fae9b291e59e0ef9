// Package config loads the daemon configuration from defaults, a YAML file,
// a .env file, FIOUL_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/fioul-boiler/internal/logic"
	"github.com/sweeney/fioul-boiler/internal/mqtt"
	"github.com/sweeney/fioul-boiler/internal/power"
	"github.com/sweeney/fioul-boiler/internal/store"
)

// EnvPrefix prefixes every environment variable, e.g. FIOUL_MQTT_BROKER.
const EnvPrefix = "FIOUL"

// Power source kinds.
const (
	SourceMQTT  = "mqtt"
	SourcePulse = "pulse"
)

// Config is the complete daemon configuration.
type Config struct {
	Power             PowerConfig      `mapstructure:"power" yaml:"power"`
	LPHRun            float64          `mapstructure:"lph_run" yaml:"lph_run"`
	KWhPerLiter       float64          `mapstructure:"kwh_per_liter" yaml:"kwh_per_liter"`
	Debounce          time.Duration    `mapstructure:"debounce" yaml:"debounce"`
	MinPreheat        time.Duration    `mapstructure:"min_preheat" yaml:"min_preheat"`
	PreheatTrickleLPH float64          `mapstructure:"preheat_trickle_lph" yaml:"preheat_trickle_lph"`
	Thresholds        logic.Thresholds `mapstructure:"thresholds" yaml:"thresholds"`
	MQTT              MQTTConfig       `mapstructure:"mqtt" yaml:"mqtt"`
	Store             StoreConfig      `mapstructure:"store" yaml:"store"`
	Timezone          string           `mapstructure:"timezone" yaml:"timezone"`
	Tick              time.Duration    `mapstructure:"tick" yaml:"tick"`
	Heartbeat         time.Duration    `mapstructure:"heartbeat" yaml:"heartbeat"`
	PublishInterval   time.Duration    `mapstructure:"publish_interval" yaml:"publish_interval"`
	HTTP              string           `mapstructure:"http" yaml:"http"`
	LogLevel          string           `mapstructure:"log_level" yaml:"log_level"`
}

// PowerConfig selects and configures the power source.
type PowerConfig struct {
	Source       string        `mapstructure:"source" yaml:"source"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	Field        string        `mapstructure:"field" yaml:"field"`
	StaleAfter   time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	PulseChip    string        `mapstructure:"pulse_chip" yaml:"pulse_chip"`
	PulseLine    int           `mapstructure:"pulse_line" yaml:"pulse_line"`
	PulsesPerKWh float64       `mapstructure:"pulses_per_kwh" yaml:"pulses_per_kwh"`
}

// MQTTConfig configures the broker connection shared by publisher and MQTT source.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker" yaml:"broker"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	WSBroker    string `mapstructure:"ws_broker" yaml:"ws_broker"`
	BufferSize  int    `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// StoreConfig selects the accumulator persistence backend.
type StoreConfig struct {
	Backend string        `mapstructure:"backend" yaml:"backend"`
	DSN     string        `mapstructure:"dsn" yaml:"dsn"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults registers every key with its default value.
// Keys must be known to viper for environment overrides to apply on Unmarshal.
func SetDefaults(v *viper.Viper) {
	th := logic.DefaultThresholds()
	p := logic.DefaultParams()

	v.SetDefault("power.source", SourceMQTT)
	v.SetDefault("power.topic", "shellies/boiler/relay/0/power")
	v.SetDefault("power.field", "power")
	v.SetDefault("power.stale_after", 5*time.Minute)
	v.SetDefault("power.read_timeout", power.DefaultReadTimeout)
	v.SetDefault("power.pulse_chip", "gpiochip0")
	v.SetDefault("power.pulse_line", 17)
	v.SetDefault("power.pulses_per_kwh", power.DefaultPulsesPerKWh)

	v.SetDefault("lph_run", p.LPHRun)
	v.SetDefault("kwh_per_liter", p.KWhPerLiter)
	v.SetDefault("debounce", p.Debounce)
	v.SetDefault("min_preheat", p.MinPreheat)
	v.SetDefault("preheat_trickle_lph", p.PreheatTrickleLPH)
	v.SetDefault("thresholds.arret", th.Arret)
	v.SetDefault("thresholds.nuit", th.Nuit)
	v.SetDefault("thresholds.pompe", th.Pompe)
	v.SetDefault("thresholds.prechauffage", th.Prechauffage)
	v.SetDefault("thresholds.postcirc", th.Postcirc)
	v.SetDefault("thresholds.burn_max", th.BurnMax)

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "fioul-boiler")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", mqtt.DefaultTopicPrefix)
	v.SetDefault("mqtt.ws_broker", "off")
	v.SetDefault("mqtt.buffer_size", mqtt.DefaultBufferSize)

	v.SetDefault("store.backend", string(store.BackendSQLite))
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.timeout", 2*time.Second)

	v.SetDefault("timezone", "Local")
	v.SetDefault("tick", time.Second)
	v.SetDefault("heartbeat", 15*time.Minute)
	v.SetDefault("publish_interval", time.Minute)
	v.SetDefault("http", ":8080")
	v.SetDefault("log_level", "info")
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"power-source":  "power.source",
	"power-topic":   "power.topic",
	"pulse-line":    "power.pulse_line",
	"read-timeout":  "power.read_timeout",
	"lph-run":       "lph_run",
	"kwh-per-liter": "kwh_per_liter",
	"debounce":      "debounce",
	"min-preheat":   "min_preheat",
	"broker":        "mqtt.broker",
	"ws-broker":     "mqtt.ws_broker",
	"store":         "store.backend",
	"store-dsn":     "store.dsn",
	"timezone":      "timezone",
	"tick":          "tick",
	"heartbeat":     "heartbeat",
	"publish-every": "publish_interval",
	"http":          "http",
	"log-level":     "log_level",
}

// RegisterFlags defines the command-line overrides on flags.
// Defaults shown in help are informational; the effective default comes from SetDefaults.
func RegisterFlags(flags *pflag.FlagSet) {
	p := logic.DefaultParams()
	flags.String("config", "", "Path to config file (default ./fioul-boiler.yaml or $HOME/fioul-boiler.yaml)")
	flags.String("env-file", ".env", "Path to .env file (ignored if missing)")
	flags.String("power-source", SourceMQTT, "Power source: mqtt or pulse")
	flags.String("power-topic", "", "MQTT topic of the boiler power sensor")
	flags.Int("pulse-line", 17, "GPIO line offset of the S0 pulse input")
	flags.Duration("read-timeout", power.DefaultReadTimeout, "Upper bound on one power read")
	flags.Float64("lph-run", p.LPHRun, "Nozzle flow while burning (L/h)")
	flags.Float64("kwh-per-liter", p.KWhPerLiter, "Energy content of the fuel (kWh/L)")
	flags.Duration("debounce", p.Debounce, "Debounce duration")
	flags.Duration("min-preheat", p.MinPreheat, "Minimum preheat hold that arms the ignition check")
	flags.String("broker", "", "MQTT broker address")
	flags.String("ws-broker", "off", `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)
	flags.String("store", string(store.BackendSQLite), "Accumulator store: memory, sqlite, mysql, postgres or redis")
	flags.String("store-dsn", "", "Store connection string or sqlite path")
	flags.String("timezone", "Local", "IANA timezone for the calendar buckets")
	flags.Duration("tick", time.Second, "Processing interval")
	flags.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flags.Duration("publish-every", time.Minute, "Republish interval when nothing changes (0 publishes every tick)")
	flags.String("http", ":8080", "HTTP status address (empty to disable)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
}

// BindFlags binds the flags defined by RegisterFlags to their keys.
// Only flags set on the command line override lower sources.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load resolves the configuration. configFile may be empty to search the
// default locations; envFile may point to a missing file.
func Load(v *viper.Viper, configFile, envFile string) (*Config, error) {
	if envFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("fioul-boiler")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	cfg.MQTT.WSBroker = ResolveWSBroker(cfg.MQTT.WSBroker, cfg.MQTT.Broker)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every value before any I/O is attempted.
func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	switch c.Power.Source {
	case SourceMQTT:
		if c.Power.Topic == "" {
			errs = append(errs, errors.New("power.topic is required for the mqtt source"))
		}
	case SourcePulse:
		if c.Power.PulsesPerKWh <= 0 {
			errs = append(errs, fmt.Errorf("power.pulses_per_kwh must be > 0, got %v", c.Power.PulsesPerKWh))
		}
		if c.Power.PulseLine < 0 {
			errs = append(errs, fmt.Errorf("power.pulse_line must be >= 0, got %d", c.Power.PulseLine))
		}
	default:
		errs = append(errs, fmt.Errorf("power.source must be mqtt or pulse, got %q", c.Power.Source))
	}
	if c.Power.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("power.stale_after must be >= 0, got %s", c.Power.StaleAfter))
	}
	if c.Power.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("power.read_timeout must be > 0, got %s", c.Power.ReadTimeout))
	}

	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if _, err := store.ParseBackend(c.Store.Backend); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be > 0, got %s", c.Tick))
	}
	if c.Heartbeat < 0 || c.PublishInterval < 0 || c.Store.Timeout < 0 {
		errs = append(errs, errors.New("heartbeat, publish_interval and store.timeout must be >= 0"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Params returns the engine parameters.
func (c *Config) Params() logic.Params {
	p := logic.DefaultParams()
	p.Thresholds = c.Thresholds
	p.Debounce = c.Debounce
	p.LPHRun = c.LPHRun
	p.KWhPerLiter = c.KWhPerLiter
	p.MinPreheat = c.MinPreheat
	p.PreheatTrickleLPH = c.PreheatTrickleLPH
	return p
}

// Location returns the timezone used for the calendar buckets.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// StoreBackend returns the validated store backend.
func (c *Config) StoreBackend() store.Backend {
	b, _ := store.ParseBackend(c.Store.Backend)
	return b
}

// YAML renders the effective configuration with the password redacted.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if out.MQTT.Password != "" {
		out.MQTT.Password = "********"
	}
	if u, err := url.Parse(out.Store.DSN); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "********")
			out.Store.DSN = u.String()
		}
	}
	return yaml.Marshal(out)
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger builds the text logger every component receives.
func NewLogger(w io.Writer, level string) *slog.Logger {
	lvl, _ := ParseLogLevel(level)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// ResolveWSBroker converts the ws_broker value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" or empty disables.
func ResolveWSBroker(ws, broker string) string {
	if ws == "off" || ws == "" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return "ws://" + u.Hostname() + ":9001"
}
