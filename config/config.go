// Package config loads the custody tool configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ruteri/medical-record-custody/custody"
	"github.com/ruteri/medical-record-custody/interfaces"
)

const (
	LedgerLevelDB = "leveldb"
	LedgerOnchain = "onchain"
)

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Secret  SecretConfig  `yaml:"secret"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
}

type StorageConfig struct {
	// URIs lists storage backends; more than one gives a redundant store.
	URIs []string `yaml:"uris"`
}

type LedgerConfig struct {
	// Kind is "leveldb" or "onchain".
	Kind string `yaml:"kind"`

	// leveldb
	Path     string `yaml:"path"`
	Uploader string `yaml:"uploader"`

	// onchain
	RPC          string `yaml:"rpc"`
	Contract     string `yaml:"contract"`
	PrivateKey   string `yaml:"private_key"`
	ChainID      int64  `yaml:"chain_id"`
	WaitReceipts bool   `yaml:"wait_receipts"`
}

type SecretConfig struct {
	// Mode is the default secret source: "callerSupplied" or "fixedConstant".
	Mode        string `yaml:"mode"`
	FixedSecret string `yaml:"fixed_secret"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int64         `yaml:"max_entries"`
}

type LogConfig struct {
	JSON    bool   `yaml:"json"`
	Debug   bool   `yaml:"debug"`
	Service string `yaml:"service"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Storage: StorageConfig{URIs: []string{"file://./data/blobs"}},
		Ledger: LedgerConfig{
			Kind:    LedgerLevelDB,
			Path:    "./data/ledger",
			RPC:     "http://127.0.0.1:8545",
			ChainID: 1337,
		},
		Secret: SecretConfig{Mode: string(custody.SecretCallerSupplied)},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        30 * time.Second,
			MaxEntries: 1024,
		},
		Log: LogConfig{Service: "medical-record-custody"},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(raw []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration can be wired.
func (c Config) Validate() error {
	if len(c.Storage.URIs) == 0 {
		return errors.New("config: at least one storage uri is required")
	}
	if _, err := c.StorageLocations(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch c.Ledger.Kind {
	case LedgerLevelDB:
		if c.Ledger.Path == "" {
			return errors.New("config: ledger.path is required for the leveldb ledger")
		}
		if c.Ledger.Uploader != "" {
			if _, err := interfaces.NewAddressFromHex(c.Ledger.Uploader); err != nil {
				return fmt.Errorf("config: ledger.uploader: %w", err)
			}
		}
	case LedgerOnchain:
		if c.Ledger.RPC == "" {
			return errors.New("config: ledger.rpc is required for the onchain ledger")
		}
		if _, err := interfaces.NewAddressFromHex(c.Ledger.Contract); err != nil {
			return fmt.Errorf("config: ledger.contract: %w", err)
		}
		if c.Ledger.ChainID <= 0 {
			return errors.New("config: ledger.chain_id must be positive")
		}
	default:
		return fmt.Errorf("config: unknown ledger kind %q", c.Ledger.Kind)
	}

	if _, err := custody.ParseSecretMode(c.Secret.Mode); err != nil {
		return fmt.Errorf("config: secret.mode: %w", err)
	}

	if c.Cache.Enabled && c.Cache.TTL < 0 {
		return errors.New("config: cache.ttl must not be negative")
	}
	return nil
}

// StorageLocations parses the storage URIs.
func (c Config) StorageLocations() ([]interfaces.StorageBackendLocation, error) {
	locations := make([]interfaces.StorageBackendLocation, 0, len(c.Storage.URIs))
	for _, uri := range c.Storage.URIs {
		loc, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, nil
}
