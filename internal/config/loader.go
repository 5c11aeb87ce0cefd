package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a configuration file on top of Defaults(). The format is chosen
// by extension: .toml for TOML, anything else is parsed as YAML. The result is
// not validated; callers merge command-line overrides first and then call
// Validate.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	// Apply environment variable interpolation
	interpolated := interpolateEnv(string(data))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".toml":
		if _, err := toml.Decode(interpolated, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML %s: %w", absPath, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolated)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML %s: %w", absPath, err)
		}
	}

	applyConfigDefaults(cfg)
	if err := splitCommandLine(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

// splitCommandLine turns a shell-quoted command_line into Command.
func splitCommandLine(cfg *Config) error {
	if cfg.CommandLine == "" {
		return nil
	}
	if len(cfg.Command) > 0 {
		return fmt.Errorf("command and command_line are mutually exclusive")
	}
	argv, err := shlex.Split(cfg.CommandLine)
	if err != nil {
		return fmt.Errorf("parse command_line: %w", err)
	}
	if len(argv) == 0 {
		return fmt.Errorf("command_line is empty")
	}
	cfg.Command = argv
	cfg.CommandLine = ""
	return nil
}

// DiscoverConfigFile finds an optional config file by checking standard locations.
// Priority order: $JOBFLOW_CONFIG, ./jobflow.yaml, ./jobflow.toml, ~/.config/jobflow/config.yaml.
// An empty path with a nil error means no file was found, which is not an error.
func DiscoverConfigFile() (string, error) {
	if path := os.Getenv("JOBFLOW_CONFIG"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("JOBFLOW_CONFIG points to %s: %w", path, err)
		}
		return path, nil
	}

	candidates := []string{"jobflow.yaml", "jobflow.toml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "jobflow", "config.yaml"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", nil
}

// applyConfigDefaults fills zero values a file may have cleared.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()
	if cfg.Workers == 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
