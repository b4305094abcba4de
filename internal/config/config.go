// Package config loads runtime configuration from the environment and from
// the optional state-URI bootstrap file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cuidalink/service-registry/internal/app/domain/token"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ledger   LedgerConfig
	Logging  LoggingConfig
	Registry RegistryConfig
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Port            int           `env:"SERVER_PORT,default=8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=15s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
	RateLimitRPS    int           `env:"SERVER_RATE_LIMIT_RPS,default=50"`
	RateLimitBurst  int           `env:"SERVER_RATE_LIMIT_BURST,default=100"`
}

// DatabaseConfig selects the persistence backend. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL          string `env:"DATABASE_URL"`
	MaxOpenConns int    `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
}

// LedgerConfig selects the ownership ledger backend.
type LedgerConfig struct {
	// Mode is "memory" or "rpc".
	Mode    string        `env:"LEDGER_MODE,default=memory"`
	RPCURL  string        `env:"LEDGER_RPC_URL"`
	Timeout time.Duration `env:"LEDGER_TIMEOUT,default=30s"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

// RegistryConfig tunes the lifecycle engine.
type RegistryConfig struct {
	Variant         string        `env:"REGISTRY_VARIANT,default=full"`
	StatsInterval   time.Duration `env:"REGISTRY_STATS_INTERVAL,default=15s"`
	EventBufferSize int           `env:"REGISTRY_EVENT_BUFFER,default=1000"`
	// StateURIFile optionally points at a YAML file seeding the state→URI
	// table on startup.
	StateURIFile string `env:"REGISTRY_STATE_URI_FILE"`
}

// Load reads .env (when present) and decodes configuration from the
// environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the application cannot run with.
func (c Config) Validate() error {
	switch token.Variant(c.Registry.Variant) {
	case token.VariantFull, token.VariantSimplified:
	default:
		return fmt.Errorf("registry variant %q must be %q or %q",
			c.Registry.Variant, token.VariantFull, token.VariantSimplified)
	}

	switch c.Ledger.Mode {
	case "memory":
	case "rpc":
		if c.Ledger.RPCURL == "" {
			return fmt.Errorf("LEDGER_RPC_URL required when LEDGER_MODE=rpc")
		}
	default:
		return fmt.Errorf("ledger mode %q must be memory or rpc", c.Ledger.Mode)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	return nil
}

// Variant returns the parsed lifecycle variant.
func (c Config) Variant() token.Variant {
	return token.Variant(c.Registry.Variant)
}

// stateURIFile is the on-disk shape of the bootstrap file:
//
//	state_uris:
//	  created: ipfs://...
//	  matched: ipfs://...
type stateURIFile struct {
	StateURIs map[string]string `yaml:"state_uris"`
}

// LoadStateURIs parses a bootstrap file into state→URI pairs for the given
// variant. State keys are the variant's lowercase state names.
func LoadStateURIs(path string, variant token.Variant) (map[token.State]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state uri file: %w", err)
	}

	var file stateURIFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse state uri file: %w", err)
	}

	byName := make(map[string]token.State, len(variant.States()))
	for _, st := range variant.States() {
		byName[variant.Name(st)] = st
	}

	out := make(map[token.State]string, len(file.StateURIs))
	for name, uri := range file.StateURIs {
		st, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown state %q for variant %q", name, variant)
		}
		if uri == "" {
			return nil, fmt.Errorf("state %q: uri must not be empty", name)
		}
		out[st] = uri
	}
	return out, nil
}
