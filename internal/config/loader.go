package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "STOREHARNESS_"

	// EnvConfigFile names an optional YAML file to load.
	EnvConfigFile = "STOREHARNESS_CONFIG"
)

// Load loads configuration from the file named by STOREHARNESS_CONFIG (if any)
// and the environment.
func Load() (*Config, error) {
	return LoadWithFile(os.Getenv(EnvConfigFile))
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (STOREHARNESS_RUN_BACKENDS, ...)
//  2. YAML config file
//  3. Default()
//
// An empty configPath skips the file. A missing file is not an error.
//
// Environment variables map onto keys by splitting on the first underscore
// after the prefix; services take one more segment for the service name:
//
//	STOREHARNESS_RUN_BACKENDS               -> run.backends
//	STOREHARNESS_SQL_POSTGRES_URL           -> sql.postgres_url
//	STOREHARNESS_SERVICES_QDRANT_ENDPOINT   -> services.qdrant.endpoint
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			// Open once and validate through the descriptor to avoid a TOCTOU race
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if err := validateConfigFileProperties(info); err != nil {
				return nil, fmt.Errorf("config file validation failed: %w", err)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envKey maps STOREHARNESS_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}

	section, field := parts[0], parts[1]
	if section == "services" {
		sub := strings.SplitN(field, "_", 2)
		if len(sub) == 2 && isServiceName(sub[0]) {
			return section + "." + sub[0] + "." + sub[1]
		}
	}
	return section + "." + field
}

func isServiceName(name string) bool {
	for _, n := range ServiceNames() {
		if n == name {
			return true
		}
	}
	return false
}

// validateConfigFileProperties rejects oversized and world-writable files.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		if info.Mode().Perm()&0o002 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (world-writable)", info.Mode().Perm())
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
