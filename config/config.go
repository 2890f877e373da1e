package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"deedvault/crypto"
	"deedvault/native/escrow"
)

// Config carries the deployment-time parameters of the deed ledger: the fixed
// role principals, the cancellation policy, and the logging identity. All
// addresses are bech32 strings with the "deed" prefix.
type Config struct {
	Service                   string `toml:"Service"`
	Env                       string `toml:"Env"`
	Inspector                 string `toml:"Inspector"`
	Lender                    string `toml:"Lender"`
	Seller                    string `toml:"Seller"`
	ForfeitOnPassedInspection bool   `toml:"ForfeitOnPassedInspection"`
}

// Default returns the configuration used when no file is present. Role
// addresses have no sensible default and stay empty; Validate enforces them.
func Default() *Config {
	return &Config{
		Service:                   "deedvault",
		Env:                       "local",
		ForfeitOnPassedInspection: true,
	}
}

// Load reads the configuration from the given path, falling back to Default
// when the file does not exist. Unknown keys are rejected so typos fail loudly.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("config file %s contains unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate checks the configuration for completeness and well-formed
// addresses.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(c.Service) == "" {
		return fmt.Errorf("config: Service must not be empty")
	}
	for field, value := range map[string]string{
		"Inspector": c.Inspector,
		"Lender":    c.Lender,
		"Seller":    c.Seller,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("config: %s address required", field)
		}
		if _, err := crypto.DecodeAddress(value); err != nil {
			return fmt.Errorf("config: invalid %s address: %w", field, err)
		}
	}
	if c.Inspector == c.Lender {
		return fmt.Errorf("config: inspector and lender must be distinct principals")
	}
	return nil
}

// Roles decodes the configured role addresses into the engine's fixed role
// set. Validate must have passed beforehand.
func (c *Config) Roles() (escrow.Roles, error) {
	inspector, err := crypto.DecodeAddress(c.Inspector)
	if err != nil {
		return escrow.Roles{}, fmt.Errorf("config: inspector: %w", err)
	}
	lender, err := crypto.DecodeAddress(c.Lender)
	if err != nil {
		return escrow.Roles{}, fmt.Errorf("config: lender: %w", err)
	}
	seller, err := crypto.DecodeAddress(c.Seller)
	if err != nil {
		return escrow.Roles{}, fmt.Errorf("config: seller: %w", err)
	}
	return escrow.Roles{
		Inspector: inspector.Raw(),
		Lender:    lender.Raw(),
		Seller:    seller.Raw(),
	}, nil
}

// Policy returns the cancellation policy expressed by the configuration.
func (c *Config) Policy() escrow.CancelPolicy {
	return escrow.CancelPolicy{ForfeitOnPassedInspection: c.ForfeitOnPassedInspection}
}
