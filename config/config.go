// Package config loads a strand endpoint's toml configuration and its
// long-term static identity key. Grounded on mailproxy/mailproxy.go's
// toml-driven configuration generator, adapted from a config *writer*
// to a config *reader* since this module's identity keys are supplied
// by the operator rather than minted during account registration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/awnumar/memguard"

	"github.com/xendarboh/strand/scrypto"
)

// Config is the on-disk toml configuration for one strand endpoint.
type Config struct {
	Listen struct {
		// Address this endpoint's datagram socket binds to, "host:port".
		Address string `toml:"Address"`
	} `toml:"Listen"`

	Logging struct {
		Level string `toml:"Level"`
	} `toml:"Logging"`

	Identity struct {
		// KeyFile holds the raw 32-byte X25519 static private key.
		KeyFile string `toml:"KeyFile"`
	} `toml:"Identity"`
}

// LoadConfig reads and parses a toml file at path.
func LoadConfig(path string) (*Config, error) {
	cfg := new(Config)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.Listen.Address == "" {
		return nil, fmt.Errorf("config: %s: Listen.Address is required", path)
	}
	if cfg.Identity.KeyFile == "" {
		return nil, fmt.Errorf("config: %s: Identity.KeyFile is required", path)
	}
	return cfg, nil
}

// LoadIdentity reads the static private key at cfg.Identity.KeyFile
// into a memguard-locked enclave, so the key material is encrypted at
// rest in process memory between uses and wiped as soon as it is
// unlocked for a single derivation.
func (c *Config) LoadIdentity() (*memguard.Enclave, error) {
	b, err := os.ReadFile(c.Identity.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("config: read key file %s: %w", c.Identity.KeyFile, err)
	}
	if len(b) != scrypto.KeySize {
		memguard.WipeBytes(b)
		return nil, fmt.Errorf("config: key file %s must contain exactly %d bytes, got %d", c.Identity.KeyFile, scrypto.KeySize, len(b))
	}
	// NewEnclave copies b into protected memory and wipes the plaintext
	// source itself.
	return memguard.NewEnclave(b), nil
}

// KeyPair unlocks enclave just long enough to derive the X25519
// keypair's public half from the locked private key, destroying the
// unlocked buffer before returning.
func KeyPair(enclave *memguard.Enclave) (scrypto.KeyPair, error) {
	buf, err := enclave.Open()
	if err != nil {
		return scrypto.KeyPair{}, fmt.Errorf("config: open identity enclave: %w", err)
	}
	defer buf.Destroy()
	return scrypto.KeyPairFromPrivate(buf.Bytes())
}

// GenerateIdentity writes a fresh X25519 static private key to path,
// for operator bootstrapping of a new endpoint's Identity.KeyFile.
func GenerateIdentity(path string) (scrypto.KeyPair, error) {
	kp, err := scrypto.GenerateKeyPair()
	if err != nil {
		return scrypto.KeyPair{}, err
	}
	if err := os.WriteFile(path, kp.Private[:], 0600); err != nil {
		return scrypto.KeyPair{}, fmt.Errorf("config: write key file %s: %w", path, err)
	}
	return kp, nil
}
