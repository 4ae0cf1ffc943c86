package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the node configuration loaded from TOML.
type Config struct {
	RPCAddress           string `toml:"RPCAddress"`
	DataDir              string `toml:"DataDir"`
	BlockIntervalSeconds int64  `toml:"BlockIntervalSeconds"`

	Stock       StockConfig    `toml:"stock"`
	Certificate ContractConfig `toml:"certificate"`
	Collector   ContractConfig `toml:"collector"`
}

// ContractConfig deploys one of the token-emission contracts.
type ContractConfig struct {
	Enabled bool  `toml:"Enabled"`
	Address int64 `toml:"Address"`
	Owner   int64 `toml:"Owner"`
}

// StockConfig deploys a stock ledger contract.
type StockConfig struct {
	Enabled             bool   `toml:"Enabled"`
	Address             int64  `toml:"Address"`
	Owner               int64  `toml:"Owner"`
	Mode                string `toml:"Mode"`
	UsageFee            int64  `toml:"UsageFee"`
	CertificateContract int64  `toml:"CertificateContract"`
	Intermediate        bool   `toml:"Intermediate"`
	Internal            bool   `toml:"Internal"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the contract sections for consistency.
func (c *Config) Validate() error {
	if c.Stock.Enabled {
		switch strings.TrimSpace(c.Stock.Mode) {
		case "L", "W", "LW":
		default:
			return fmt.Errorf("config: stock mode must be L, W or LW, got %q", c.Stock.Mode)
		}
		if c.Stock.Address == 0 {
			return fmt.Errorf("config: stock contract needs a nonzero address")
		}
		if c.Stock.Owner == 0 {
			return fmt.Errorf("config: stock contract needs a nonzero owner")
		}
	}
	for name, cc := range map[string]ContractConfig{"certificate": c.Certificate, "collector": c.Collector} {
		if !cc.Enabled {
			continue
		}
		if cc.Address == 0 || cc.Owner == 0 {
			return fmt.Errorf("config: %s contract needs a nonzero address and owner", name)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./veridibloc-data"
	}
	if cfg.BlockIntervalSeconds <= 0 {
		cfg.BlockIntervalSeconds = 4
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:           ":8080",
		DataDir:              "./veridibloc-data",
		BlockIntervalSeconds: 4,
		Stock: StockConfig{
			Enabled: true,
			Address: 1000,
			Owner:   100,
			Mode:    "W",
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
