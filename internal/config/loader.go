package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Server.Token = expandEnvVars(cfg.Server.Token)
}

// LoadDotEnv loads a .env file next to the config file into the process
// environment. Variables already set are not overridden; a missing file is
// not an error.
func LoadDotEnv(configPath string) error {
	path := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &ConfigError{Message: "failed to load .env: " + err.Error()}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Config{}

	if err := LoadDotEnv(path); err != nil {
		return Defaults(), err
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Defaults(), err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Defaults(), &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyEnvOverrides reads MINICHAT_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MINICHAT_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("MINICHAT_API_BASE"); v != "" {
		cfg.Server.APIBase = v
	}
	if v := os.Getenv("MINICHAT_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("MINICHAT_CACHE_STORE"); v != "" {
		cfg.Cache.Store = strings.ToLower(v)
	}
	if v := os.Getenv("MINICHAT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
