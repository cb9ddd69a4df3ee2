// Package config loads the print agent configuration: built-in defaults,
// then an optional YAML file, then RPN_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"rpn/internal/model"
)

const envPrefix = "RPN_"

type Config struct {
	Store     Store      `koanf:"store"`
	Menu      model.Menu `koanf:"menu"`
	HTTP      HTTP       `koanf:"http"`
	Log       Log        `koanf:"log"`
	Printer   Printer    `koanf:"printer"`
	State     State      `koanf:"state"`
	Changelog Changelog  `koanf:"changelog"`
	Kafka     Kafka      `koanf:"kafka"`
	Snapshot  Snapshot   `koanf:"snapshot"`
	Redis     Redis      `koanf:"redis"`
}

type Store struct {
	Name string `koanf:"name"`
}

type HTTP struct {
	Addr string `koanf:"addr"`
}

type Log struct {
	Level string `koanf:"level"`
}

type Printer struct {
	ScanTimeout time.Duration `koanf:"scan_timeout"`
	ChunkSize   int           `koanf:"chunk_size"`
	// Address pins one printer; empty takes the first one advertising the service.
	Address    string `koanf:"address"`
	NamePrefix string `koanf:"name_prefix"`
}

type State struct {
	Backend string `koanf:"backend"`
	Dir     string `koanf:"dir"`
}

type Changelog struct {
	Sink string `koanf:"sink"`
	Dir  string `koanf:"dir"`
}

type Kafka struct {
	Bootstrap      string `koanf:"bootstrap"`
	GroupID        string `koanf:"group_id"`
	TopicOrders    string `koanf:"topic_orders"`
	TopicChangelog string `koanf:"topic_changelog"`
	TopicSnapshots string `koanf:"topic_snapshots"`
}

type Snapshot struct {
	Dir      string        `koanf:"dir"`
	Interval time.Duration `koanf:"interval"`
}

type Redis struct {
	// Addr selects the Redis print ledger; empty keeps claims in memory.
	Addr string        `koanf:"addr"`
	TTL  time.Duration `koanf:"ttl"`
}

func defaults() map[string]any {
	return map[string]any{
		"store.name":            "Raja Pisang Nugget",
		"menu.full_price":       model.DefaultMenu.FullPrice,
		"menu.half_price":       model.DefaultMenu.HalfPrice,
		"http.addr":             ":8080",
		"log.level":             "info",
		"printer.scan_timeout":  "10s",
		"printer.chunk_size":    512,
		"printer.address":       "",
		"printer.name_prefix":   "",
		"state.backend":         "pebble",
		"state.dir":             "./data/tallies",
		"changelog.sink":        "file",
		"changelog.dir":         "./changelog",
		"kafka.bootstrap":       "",
		"kafka.group_id":        "rpn-printagent",
		"kafka.topic_orders":    "rpn.orders.paid",
		"kafka.topic_changelog": "rpn.tallies.changelog",
		"kafka.topic_snapshots": "rpn.tallies.snapshots",
		"snapshot.dir":          "./snapshots",
		"snapshot.interval":     "5m",
		"redis.addr":            "",
		"redis.ttl":             "168h",
	}
}

// envKey maps RPN_SECTION_SOME_KEY to section.some_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Load reads the configuration. path may be empty.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func (c Config) Validate() error {
	if !oneOf(c.State.Backend, "memory", "pebble", "badger") {
		return fmt.Errorf("config: state.backend %q: want memory|pebble|badger", c.State.Backend)
	}
	if !oneOf(c.Changelog.Sink, "none", "file", "kafka", "both") {
		return fmt.Errorf("config: changelog.sink %q: want none|file|kafka|both", c.Changelog.Sink)
	}
	if (c.Changelog.Sink == "kafka" || c.Changelog.Sink == "both") && c.Kafka.Bootstrap == "" {
		return fmt.Errorf("config: changelog.sink %q needs kafka.bootstrap", c.Changelog.Sink)
	}
	if c.Printer.ChunkSize < 1 || c.Printer.ChunkSize > 512 {
		return fmt.Errorf("config: printer.chunk_size %d out of range 1..512", c.Printer.ChunkSize)
	}
	if c.Menu.FullPrice <= 0 || c.Menu.HalfPrice <= 0 {
		return fmt.Errorf("config: menu prices must be positive")
	}
	return nil
}
