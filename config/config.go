// Package config loads the engine's runtime settings: where on disk it
// stores its table files, how many pages its buffer pool holds, and which
// replacement policy that pool uses.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/goquel/goquel/storage"
)

// Config is the single flat settings object the engine is opened with.
// Zero value is not valid; use Default() or Load() to obtain one.
type Config struct {
	DataDir     string `toml:"data_dir"`
	BufferPages int    `toml:"buffer_pages"`
	Policy      string `toml:"policy"`
}

// Default holds the values used for any setting that neither a config file
// nor a CLI flag provides, so an engine embedded as a library without a
// config file still starts with sane values.
func Default() Config {
	return Config{
		DataDir:     "./goquel-data",
		BufferPages: 64,
		Policy:      "lru",
	}
}

// Load reads path as TOML over Default()'s values; an empty path is not an
// error and yields Default() (the CLI calls Load even when --config was not
// given).
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %q: %w", path, err)
	}
	return cfg, nil
}

// ReplacementPolicy maps the config's string policy name onto the buffer
// pool's enum, defaulting to LRU on an empty string so a config file that
// omits the field still opens cleanly.
func (c Config) ReplacementPolicy() (storage.Policy, error) {
	if c.Policy == "" {
		return storage.PolicyLRU, nil
	}
	policy, ok := storage.ParsePolicy(c.Policy)
	if !ok {
		return 0, fmt.Errorf("config: unknown replacement policy %q", c.Policy)
	}
	return policy, nil
}

// Override applies any non-zero-value CLI flag on top of a loaded config;
// flags beat the config file.
func (c Config) Override(dataDir string, bufferPages int, policy string) Config {
	if dataDir != "" {
		c.DataDir = dataDir
	}
	if bufferPages != 0 {
		c.BufferPages = bufferPages
	}
	if policy != "" {
		c.Policy = policy
	}
	return c
}
