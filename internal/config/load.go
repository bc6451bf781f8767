package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields an empty config so env-only setups still work.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("AICHAN_DISCORD_TOKEN", &c.Discord.Token)
	envStr("AICHAN_OCR_TOKEN", &c.OCR.GoogleAPIToken)
	envStr("AICHAN_OCR_PROJECT_ID", &c.OCR.GoogleProjectID)

	// A single shared key can cover every channel that doesn't set its own.
	if v := os.Getenv("AICHAN_LLM_API_KEY"); v != "" {
		for i := range c.Channels {
			if c.Channels[i].LLM.APIKey == "" {
				c.Channels[i].LLM.APIKey = v
			}
		}
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
