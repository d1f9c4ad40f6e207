package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "CRAWLER_"

// LoadFile overlays the TOML file at path onto cfg.
// Keys missing from the file keep their current values.
func LoadFile(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return fmt.Errorf("unknown config keys in %q: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %q: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overlays CRAWLER_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if value, ok := EnvString(EnvPrefix + "BASE_URL"); ok {
		cfg.BaseURL = value
	}
	if value, ok, err := EnvInt(EnvPrefix + "PAGES"); err != nil {
		return err
	} else if ok {
		cfg.Pages = value
	}
	if value, ok, err := EnvInt(EnvPrefix + "BASE_WORKERS"); err != nil {
		return err
	} else if ok {
		cfg.BaseWorkers = value
	}
	if value, ok, err := EnvFloat(EnvPrefix + "SPEED_FACTOR"); err != nil {
		return err
	} else if ok {
		cfg.SpeedFactor = value
	}
	if value, ok, err := EnvInt(EnvPrefix + "MAX_RETRIES"); err != nil {
		return err
	} else if ok {
		cfg.MaxRetries = value
	}
	if value, ok, err := EnvDuration(EnvPrefix + "TIMEOUT"); err != nil {
		return err
	} else if ok {
		cfg.Timeout = value
	}
	if value, ok := EnvString(EnvPrefix + "OUTPUT"); ok {
		cfg.OutputFile = value
	}
	if value, ok := EnvString(EnvPrefix + "FORMAT"); ok {
		cfg.OutputFormat = strings.ToLower(value)
	}
	if value, ok := EnvString(EnvPrefix + "METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, true, nil
}

// EnvFloat parses key as a float.
func EnvFloat(key string) (float64, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, true, nil
}
