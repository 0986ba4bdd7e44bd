package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tolelom/lottochain/lotto"
	"github.com/tolelom/lottochain/storage"
)

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string            `json:"chain_id" toml:"chain_id"`
	Alloc   map[string]uint64 `json:"alloc" toml:"alloc"` // pubkey hex → initial balance
}

// LottoConfig holds the lottery parameters. Durations are Go duration
// strings such as "10m".
type LottoConfig struct {
	EntryFee     uint64   `json:"entry_fee" toml:"entry_fee"`
	JoinWindow   Duration `json:"join_window" toml:"join_window"`
	RevealWindow Duration `json:"reveal_window" toml:"reveal_window"`
	Admins       []string `json:"admins" toml:"admins"` // may force phases; empty → anyone
}

// Params converts the section into engine parameters.
func (c LottoConfig) Params() lotto.Params {
	return lotto.Params{
		EntryFee:     c.EntryFee,
		JoinWindow:   time.Duration(c.JoinWindow),
		RevealWindow: time.Duration(c.RevealWindow),
		Admins:       c.Admins,
	}
}

// Config holds all node configuration.
type Config struct {
	NodeID        string        `json:"node_id" toml:"node_id"`
	DataDir       string        `json:"data_dir" toml:"data_dir"`
	DBBackend     string        `json:"db_backend" toml:"db_backend"` // "leveldb" or "bolt"
	RPCPort       int           `json:"rpc_port" toml:"rpc_port"`
	RPCAuthToken  string        `json:"rpc_auth_token,omitempty" toml:"rpc_auth_token,omitempty"`
	TLS           *TLSConfig    `json:"tls,omitempty" toml:"tls,omitempty"`
	MaxBlockTxs   int           `json:"max_block_txs" toml:"max_block_txs"` // max transactions per block; 0 → 500
	BlockInterval Duration      `json:"block_interval" toml:"block_interval"`
	LogLevel      string        `json:"log_level" toml:"log_level"`
	LogFormat     string        `json:"log_format" toml:"log_format"` // "json" or "console"
	Validators    []string      `json:"validators" toml:"validators"` // authorised proposer pubkey hexes
	Genesis       GenesisConfig `json:"genesis" toml:"genesis"`
	Lotto         LottoConfig   `json:"lotto" toml:"lotto"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	p := lotto.DefaultParams()
	return &Config{
		NodeID:        "node0",
		DataDir:       "./data",
		DBBackend:     storage.BackendLevelDB,
		RPCPort:       8545,
		MaxBlockTxs:   500,
		BlockInterval: Duration(2 * time.Second),
		LogLevel:      "info",
		LogFormat:     "json",
		Genesis: GenesisConfig{
			ChainID: "lottochain-dev",
			Alloc:   map[string]uint64{},
		},
		Lotto: LottoConfig{
			EntryFee:     p.EntryFee,
			JoinWindow:   Duration(p.JoinWindow),
			RevealWindow: Duration(p.RevealWindow),
		},
	}
}

// Validate reports the first setting the node cannot start with.
func (c *Config) Validate() error {
	switch c.DBBackend {
	case storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("db_backend %q: want %q or %q", c.DBBackend, storage.BackendLevelDB, storage.BackendBolt)
	}
	if c.Genesis.ChainID == "" {
		return errors.New("genesis.chain_id is required")
	}
	if c.BlockInterval <= 0 {
		return errors.New("block_interval must be positive")
	}
	if err := c.Lotto.Params().Validate(); err != nil {
		return err
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load reads a config file from path. Files ending in .toml are parsed as
// TOML, anything else as JSON. Unset fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if isTOML(path) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path in the format its extension selects.
func Save(cfg *Config, path string) error {
	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Duration is a time.Duration that reads and writes as "1m30s" in both
// JSON and TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
