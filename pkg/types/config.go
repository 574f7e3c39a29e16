package types

import (
	"errors"
	"time"
)

// Config holds backend selection and collaborator parameters.
type Config struct {
	Backend      string        `json:"backend" yaml:"backend"`
	DataDir      string        `json:"data_dir" yaml:"data_dir"`
	DatabaseURL  string        `json:"database_url" yaml:"database_url,omitempty"`
	LbrynetURL   string        `json:"lbrynet_url" yaml:"lbrynet_url,omitempty"`
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout,omitempty"`
	FetchRate    float64       `json:"fetch_rate" yaml:"fetch_rate,omitempty"` // Fetches per second; 0 disables limiting.
	FetchBurst   int           `json:"fetch_burst" yaml:"fetch_burst,omitempty"`
	RedisAddr    string        `json:"redis_addr" yaml:"redis_addr,omitempty"` // Empty disables the redis cache.
	RedisTTL     time.Duration `json:"redis_ttl" yaml:"redis_ttl,omitempty"`
}

// Supported backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Defaults applied by the CLI when config.yaml leaves a key unset.
const (
	DefaultLbrynetURL   = "http://localhost:5279"
	DefaultFetchTimeout = 30 * time.Second
	DefaultRedisTTL     = time.Hour
)

// Config validation errors.
var (
	ErrBackendEmpty        = errors.New("backend must not be empty")
	ErrBackendUnknown      = errors.New("unknown backend")
	ErrDatabaseURLEmpty    = errors.New("database_url is required for the postgres backend")
	ErrFetchTimeoutInvalid = errors.New("fetch_timeout must not be negative")
	ErrFetchRateInvalid    = errors.New("fetch_rate must not be negative")
	ErrRedisTTLInvalid     = errors.New("redis_ttl must not be negative")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite:   true,
	BackendPostgres: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Backend == BackendPostgres && c.DatabaseURL == "" {
		return ErrDatabaseURLEmpty
	}
	if c.FetchTimeout < 0 {
		return ErrFetchTimeoutInvalid
	}
	if c.FetchRate < 0 {
		return ErrFetchRateInvalid
	}
	if c.RedisTTL < 0 {
		return ErrRedisTTLInvalid
	}
	return nil
}
