package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/RidgeA/postbus"
)

const (
	RoleHost     = "host"
	RoleEmbedded = "embedded"

	KindAMQP   = "amqp"
	KindNATS   = "nats"
	KindRedis  = "redis"
	KindLibp2p = "libp2p"
	KindMemory = "memory"
)

type Config struct {
	Role          string                   `toml:"role"`
	ContainerPath string                   `toml:"container_path"`
	MicroAppPath  string                   `toml:"micro_app_path"`
	Bus           BusConfig                `toml:"bus"`
	Transport     TransportConfig          `toml:"transport"`
	Routes        map[string]postbus.Route `toml:"routes"`
}

type BusConfig struct {
	TargetOrigin   string `toml:"target_origin"`
	AllowedOrigin  string `toml:"allowed_origin"`
	UseLogger      bool   `toml:"use_logger"`
	RequestTimeout string `toml:"request_timeout"`
}

type TransportConfig struct {
	Kind            string   `toml:"kind"`
	URL             string   `toml:"url"`
	Name            string   `toml:"name"`
	Origin          string   `toml:"origin"`
	Peer            string   `toml:"peer"`
	Exchange        string   `toml:"exchange"`
	ListenAddrs     []string `toml:"listen_addrs"`
	Bootstrap       []string `toml:"bootstrap"`
	IdentityKeyFile string   `toml:"identity_key_file"`
}

func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return finish(cfg)
}

func Parse(data string) (Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Role == "" {
		cfg.Role = RoleHost
	}
	if cfg.ContainerPath == "" {
		cfg.ContainerPath = "/"
	}
	if cfg.Bus.TargetOrigin == "" {
		cfg.Bus.TargetOrigin = "*"
	}
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = KindMemory
	}
	if cfg.Transport.Origin == "" {
		cfg.Transport.Origin = "*"
	}
}

func Validate(cfg Config) error {
	switch cfg.Role {
	case RoleHost, RoleEmbedded:
	default:
		return fmt.Errorf("unknown role %q", cfg.Role)
	}
	if _, err := cfg.Bus.Timeout(); err != nil {
		return err
	}

	t := cfg.Transport
	switch t.Kind {
	case KindAMQP, KindNATS, KindRedis:
		if strings.TrimSpace(t.URL) == "" {
			return fmt.Errorf("transport %s missing url", t.Kind)
		}
	case KindLibp2p, KindMemory:
	default:
		return fmt.Errorf("unknown transport kind %q", t.Kind)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("transport missing name")
	}
	if cfg.Role == RoleEmbedded && strings.TrimSpace(t.Peer) == "" {
		return fmt.Errorf("embedded role requires transport peer")
	}
	return nil
}

// Timeout parses RequestTimeout; empty means no timeout.
func (b BusConfig) Timeout() (time.Duration, error) {
	if strings.TrimSpace(b.RequestTimeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(b.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid request_timeout %q: %w", b.RequestTimeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative request_timeout %q", b.RequestTimeout)
	}
	return d, nil
}

// Postbus converts the bus section into the facade configuration.
func (b BusConfig) Postbus() postbus.Config {
	return postbus.Config{
		TargetOrigin:  b.TargetOrigin,
		AllowedOrigin: b.AllowedOrigin,
		UseLogger:     postbus.Bool(b.UseLogger),
	}
}
