// Package config loads the controller configuration from an optional YAML
// file, then applies any command-line flags that were set explicitly.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sweeney/farm-controller/internal/kafka"
	"github.com/sweeney/farm-controller/internal/logging"
	"github.com/sweeney/farm-controller/internal/logic"
	"github.com/sweeney/farm-controller/internal/relay"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Relays configures the actuator outputs.
type Relays struct {
	Enabled bool                 `yaml:"enabled"`
	Chip    string               `yaml:"chip"`
	Pins    map[string]relay.Pin `yaml:"pins"`
}

// Audit sizes the audit logger.
type Audit struct {
	History int           `yaml:"history"`
	Buffer  int           `yaml:"buffer"`
	Retry   time.Duration `yaml:"retry"`
}

// Config is the complete daemon configuration.
type Config struct {
	DeviceID   string         `yaml:"device_id"`
	Actuators  []string       `yaml:"actuators"`
	Tick       time.Duration  `yaml:"tick"`
	StaleAfter time.Duration  `yaml:"stale_after"`
	Heartbeat  time.Duration  `yaml:"heartbeat"`
	Broker     string         `yaml:"broker"`
	HTTP       string         `yaml:"http"`
	Wraparound string         `yaml:"wraparound"`
	RulesFile  string         `yaml:"rules_file"`
	Relays     Relays         `yaml:"relays"`
	Kafka      kafka.Config   `yaml:"kafka"`
	Audit      Audit          `yaml:"audit"`
	Log        logging.Config `yaml:"log"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	pins := make(map[string]relay.Pin, len(relay.DefaultPins))
	for a, p := range relay.DefaultPins {
		pins[string(a)] = p
	}
	actuators := make([]string, len(logic.DefaultActuators))
	for i, a := range logic.DefaultActuators {
		actuators[i] = string(a)
	}
	return Config{
		DeviceID:   "device_001",
		Actuators:  actuators,
		Tick:       time.Second,
		StaleAfter: 30 * time.Second,
		Heartbeat:  15 * time.Minute,
		Broker:     "tcp://192.168.1.200:1883",
		HTTP:       ":80",
		Wraparound: logic.WrapMidnight.String(),
		Relays:     Relays{Enabled: true, Chip: "gpiochip0", Pins: pins},
		Kafka:      kafka.Config{Topic: "farm.audit"},
		Audit:      Audit{History: 200, Buffer: 1000, Retry: 5 * time.Second},
		Log:        logging.Config{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are rejected. A relays.pins map in the file replaces the
// default pins rather than merging with them.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	defaultPins := cfg.Relays.Pins
	cfg.Relays.Pins = nil
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Relays.Pins == nil {
		cfg.Relays.Pins = defaultPins
	}
	return cfg, nil
}

// ActuatorList returns the configured actuators in resolve order.
func (c Config) ActuatorList() []logic.Actuator {
	out := make([]logic.Actuator, len(c.Actuators))
	for i, a := range c.Actuators {
		out[i] = logic.Actuator(a)
	}
	return out
}

// RelayPins returns the pin map keyed by actuator.
func (c Config) RelayPins() map[logic.Actuator]relay.Pin {
	out := make(map[logic.Actuator]relay.Pin, len(c.Relays.Pins))
	for a, p := range c.Relays.Pins {
		out[logic.Actuator(a)] = p
	}
	return out
}

// WrapPolicy returns the parsed wraparound policy.
func (c Config) WrapPolicy() logic.WrapPolicy {
	p, _ := logic.ParseWrapPolicy(c.Wraparound)
	return p
}

func invalid(key, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, key, fmt.Sprintf(format, args...))
}

// Validate checks every key and returns the first problem found.
func (c Config) Validate() error {
	if c.DeviceID == "" || strings.ContainsAny(c.DeviceID, "/+# ") {
		return invalid("device_id", "%q is not a valid topic segment", c.DeviceID)
	}
	if len(c.Actuators) == 0 {
		return invalid("actuators", "at least one actuator is required")
	}
	seen := make(map[string]bool, len(c.Actuators))
	for _, a := range c.Actuators {
		if a == "" || seen[a] {
			return invalid("actuators", "empty or duplicate actuator %q", a)
		}
		seen[a] = true
	}
	if c.Tick <= 0 {
		return invalid("tick", "must be positive, got %v", c.Tick)
	}
	if c.StaleAfter < 0 {
		return invalid("stale_after", "must not be negative, got %v", c.StaleAfter)
	}
	if c.Heartbeat < 0 {
		return invalid("heartbeat", "must not be negative, got %v", c.Heartbeat)
	}
	if c.Broker == "" {
		return invalid("broker", "must not be empty")
	}
	if _, ok := logic.ParseWrapPolicy(c.Wraparound); !ok {
		return invalid("wraparound", "want %q or %q, got %q", logic.WrapMidnight, logic.WrapSuspect, c.Wraparound)
	}
	if c.Relays.Enabled {
		used := make(map[int]string, len(c.Relays.Pins))
		for _, a := range c.Actuators {
			p, ok := c.Relays.Pins[a]
			if !ok {
				return invalid("relays.pins", "no pin for actuator %q", a)
			}
			if other, dup := used[p.Offset]; dup {
				return invalid("relays.pins", "%s and %s share pin %d", a, other, p.Offset)
			}
			used[p.Offset] = a
		}
		for a := range c.Relays.Pins {
			if !seen[a] {
				return invalid("relays.pins", "pin configured for unknown actuator %q", a)
			}
		}
	}
	if c.Kafka.Enabled() && strings.TrimSpace(c.Kafka.Topic) == "" {
		return invalid("kafka.topic", "must be set when brokers are configured")
	}
	if c.Audit.History < 0 || c.Audit.Buffer < 0 || c.Audit.Retry < 0 {
		return invalid("audit", "sizes and retry must not be negative")
	}
	return nil
}

// Parse builds the configuration from args: defaults, then the file named
// by --config, then every flag given explicitly on the command line.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	def := Default()
	path := fs.String("config", "", "YAML config file")
	deviceID := fs.String("device-id", def.DeviceID, "Device ID used in MQTT topics")
	tick := fs.Duration("tick", def.Tick, "Tick interval")
	stale := fs.Duration("stale-after", def.StaleAfter, "Sensor snapshot age that suppresses automation (0 to disable)")
	heartbeat := fs.Duration("heartbeat", def.Heartbeat, "Heartbeat interval (0 to disable)")
	broker := fs.String("broker", def.Broker, "MQTT broker address")
	httpAddr := fs.String("http", def.HTTP, "HTTP status address (empty to disable)")
	wrap := fs.String("wraparound", def.Wraparound, `Schedules with end < start: "wrap" past midnight or "suspect"`)
	rules := fs.String("rules", "", "Bootstrap configuration view (JSON) applied at startup")
	noRelays := fs.Bool("no-relays", false, "Run without driving relays")
	kafkaBrokers := fs.String("kafka-brokers", "", "Comma-separated Kafka brokers for the audit stream (empty to disable)")
	logLevel := fs.String("log-level", def.Log.Level, "Log level")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := Load(*path)
	if err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device-id":
			cfg.DeviceID = *deviceID
		case "tick":
			cfg.Tick = *tick
		case "stale-after":
			cfg.StaleAfter = *stale
		case "heartbeat":
			cfg.Heartbeat = *heartbeat
		case "broker":
			cfg.Broker = *broker
		case "http":
			cfg.HTTP = *httpAddr
		case "wraparound":
			cfg.Wraparound = *wrap
		case "rules":
			cfg.RulesFile = *rules
		case "no-relays":
			cfg.Relays.Enabled = !*noRelays
		case "kafka-brokers":
			cfg.Kafka.Brokers = splitList(*kafkaBrokers)
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
