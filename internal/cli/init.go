package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/speech/internal/paths"
	"github.com/mesh-intelligence/speech/pkg/types"
)

// configFile holds the structure written to config.yaml.
type configFile struct {
	Backend      string  `yaml:"backend"`
	DataDir      string  `yaml:"data_dir,omitempty"`
	DatabaseURL  string  `yaml:"database_url,omitempty"`
	LbrynetURL   string  `yaml:"lbrynet_url"`
	FetchTimeout string  `yaml:"fetch_timeout"`
	FetchRate    float64 `yaml:"fetch_rate"`
	FetchBurst   int     `yaml:"fetch_burst"`
	RedisAddr    string  `yaml:"redis_addr,omitempty"`
	RedisTTL     string  `yaml:"redis_ttl"`
}

func newInitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize speech configuration and storage",
		Long:  "Write a default config.yaml if none exists, then create the database and its schema.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, flags)
		},
	}
}

func runInit(cmd *cobra.Command, flags *rootFlags) error {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return failure("resolve config dir", err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return failure("create config directory", err)
	}

	configPath := filepath.Join(configDir, configFileExt)
	written, err := writeConfigIfMissing(configPath, flags.dataDir)
	if err != nil {
		return failure("write config", err)
	}

	s, err := openSession(cmd, flags)
	if err != nil {
		return err
	}
	if err := s.Close(); err != nil {
		return failure("close store", err)
	}

	out := cmd.OutOrStdout()
	if written {
		fmt.Fprintf(out, "wrote %s\n", configPath)
	}
	fmt.Fprintf(out, "speech initialized (%s backend)\n", s.cfg.Backend)
	return nil
}

// writeConfigIfMissing creates config.yaml with default values if the file
// does not exist. Reports whether it wrote the file.
func writeConfigIfMissing(path, dataDir string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	if dataDir != "" {
		abs, err := filepath.Abs(dataDir)
		if err != nil {
			return false, err
		}
		dataDir = abs
	}
	cfg := configFile{
		Backend:      types.BackendSQLite,
		DataDir:      dataDir,
		LbrynetURL:   types.DefaultLbrynetURL,
		FetchTimeout: types.DefaultFetchTimeout.String(),
		FetchBurst:   1,
		RedisTTL:     types.DefaultRedisTTL.String(),
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	return true, os.WriteFile(path, data, 0o644)
}
