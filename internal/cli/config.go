// Config loading and store wiring for the speech CLI.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/speech/internal/lbrynet"
	"github.com/mesh-intelligence/speech/internal/paths"
	"github.com/mesh-intelligence/speech/internal/postgres"
	"github.com/mesh-intelligence/speech/internal/rediscache"
	"github.com/mesh-intelligence/speech/pkg/sqlite"
	"github.com/mesh-intelligence/speech/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
	envPrefix      = "SPEECH"
)

// Config keys; each can be overridden by SPEECH_<KEY>.
const (
	cfgKeyBackend      = "backend"
	cfgKeyDataDir      = "data_dir"
	cfgKeyDatabaseURL  = "database_url"
	cfgKeyLbrynetURL   = "lbrynet_url"
	cfgKeyFetchTimeout = "fetch_timeout"
	cfgKeyFetchRate    = "fetch_rate"
	cfgKeyFetchBurst   = "fetch_burst"
	cfgKeyRedisAddr    = "redis_addr"
	cfgKeyRedisTTL     = "redis_ttl"
)

// loadConfig reads config.yaml from configDir, applying defaults and
// SPEECH_ environment overrides. A missing config.yaml is not an error.
// DataDir is resolved through paths.ResolveDataDir with dataDirFlag first.
func loadConfig(configDir, dataDirFlag string) (types.Config, error) {
	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyLbrynetURL, types.DefaultLbrynetURL)
	v.SetDefault(cfgKeyFetchTimeout, types.DefaultFetchTimeout)
	v.SetDefault(cfgKeyFetchBurst, 1)
	v.SetDefault(cfgKeyRedisTTL, types.DefaultRedisTTL)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return types.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	dataDir, err := paths.ResolveDataDir(dataDirFlag, v.GetString(cfgKeyDataDir))
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve data dir: %w", err)
	}

	cfg := types.Config{
		Backend:      v.GetString(cfgKeyBackend),
		DataDir:      dataDir,
		DatabaseURL:  v.GetString(cfgKeyDatabaseURL),
		LbrynetURL:   v.GetString(cfgKeyLbrynetURL),
		FetchTimeout: v.GetDuration(cfgKeyFetchTimeout),
		FetchRate:    v.GetFloat64(cfgKeyFetchRate),
		FetchBurst:   v.GetInt(cfgKeyFetchBurst),
		RedisAddr:    v.GetString(cfgKeyRedisAddr),
		RedisTTL:     v.GetDuration(cfgKeyRedisTTL),
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("invalid config in %s: %w", filepath.Join(configDir, configFileExt), err)
	}
	return cfg, nil
}

// session is the configured backend for one command run.
type session struct {
	cfg     types.Config
	backend types.Backend
	// store is backend, fronted by redis when redis_addr is set.
	store  types.Store
	logger *slog.Logger
}

// openSession loads config and opens the configured backend. The caller
// must Close the session.
func openSession(cmd *cobra.Command, flags *rootFlags) (*session, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cmd.ErrOrStderr(), flags.verbose)

	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return nil, failure("resolve config dir", err)
	}
	cfg, err := loadConfig(configDir, flags.dataDir)
	if err != nil {
		return nil, err
	}

	var backend types.Backend
	switch cfg.Backend {
	case types.BackendPostgres:
		backend, err = postgres.Open(ctx, cfg.DatabaseURL, logger)
	default:
		backend, err = sqlite.Open(cfg, logger)
	}
	if err != nil {
		return nil, failure("open "+cfg.Backend+" store", err)
	}

	s := &session{cfg: cfg, backend: backend, store: backend, logger: logger}
	if cfg.RedisAddr != "" {
		client, err := rediscache.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			backend.Close()
			return nil, failure("open redis cache", err)
		}
		s.store = rediscache.Wrap(backend, client, cfg.RedisTTL, logger)
	}
	logger.Debug("session opened", "backend", cfg.Backend, "data_dir", cfg.DataDir, "redis", cfg.RedisAddr != "")
	return s, nil
}

// provider returns a lbrynet client configured from the session.
func (s *session) provider() *lbrynet.Client {
	return lbrynet.NewClient(s.cfg.LbrynetURL,
		lbrynet.WithTimeout(s.cfg.FetchTimeout),
		lbrynet.WithRateLimit(s.cfg.FetchRate, s.cfg.FetchBurst),
	)
}

// Close releases the store and, through it, the backend.
func (s *session) Close() error {
	return s.store.Close()
}
