package config

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Mode is the dispatch mode of a run. Exactly one is active per run.
type Mode int

const (
	// ModeCat echoes records to stdout; no command was given.
	ModeCat Mode = iota
	// ModeSubstitute runs one process per record with {} or {.} substituted.
	ModeSubstitute
	// ModeForward streams records round-robin to the stdin of long-lived workers.
	ModeForward
)

func (m Mode) String() string {
	switch m {
	case ModeCat:
		return "cat"
	case ModeSubstitute:
		return "substitute"
	case ModeForward:
		return "forward"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Config represents the complete jobflow run configuration.
type Config struct {
	Workers       int       `yaml:"workers" toml:"workers"`
	Command       []string  `yaml:"command,omitempty" toml:"command,omitempty"`
	CommandLine   string    `yaml:"command_line,omitempty" toml:"command_line,omitempty"`
	Skip          uint64    `yaml:"skip" toml:"skip"`
	Count         uint64    `yaml:"count" toml:"count"`
	StateFile     string    `yaml:"statefile,omitempty" toml:"statefile,omitempty"`
	Resume        bool      `yaml:"resume" toml:"resume"`
	DelayedFlush  bool      `yaml:"delayed_flush" toml:"delayed_flush"`
	DelayedSpinup int       `yaml:"delayed_spinup_ms" toml:"delayed_spinup_ms"`
	Buffered      bool      `yaml:"buffered" toml:"buffered"`
	JoinOutput    bool      `yaml:"join_output" toml:"join_output"`
	Bulk          ByteSize  `yaml:"bulk" toml:"bulk"`
	Limits        LimitList `yaml:"limits,omitempty" toml:"limits,omitempty"`
	EOFSentinel   string    `yaml:"eof,omitempty" toml:"eof,omitempty"`
	TempDir       string    `yaml:"tempdir,omitempty" toml:"tempdir,omitempty"`

	Log     LogConfig     `yaml:"log" toml:"log"`
	Journal JournalConfig `yaml:"journal" toml:"journal"`
	Status  StatusConfig  `yaml:"status" toml:"status"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// JournalConfig defines the optional sqlite run journal.
type JournalConfig struct {
	Path string `yaml:"path,omitempty" toml:"path,omitempty"`
}

// StatusConfig defines the optional status HTTP endpoint.
type StatusConfig struct {
	Listen string `yaml:"listen,omitempty" toml:"listen,omitempty"`
}

// Defaults returns a Config with the defaults of a plain run.
func Defaults() *Config {
	return &Config{
		Workers: 1,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Mode derives the dispatch mode from the command template.
func (c *Config) Mode() Mode {
	if len(c.Command) == 0 {
		return ModeCat
	}
	for _, arg := range c.Command {
		if strings.Contains(arg, "{}") || strings.Contains(arg, "{.}") {
			return ModeSubstitute
		}
	}
	return ModeForward
}

// ParseSize parses a human-readable size. Bare K, M, G and T suffixes are
// binary units ("64K" is 65536); "KB", "MB" and friends stay decimal.
func ParseSize(s string) (uint64, error) {
	t := strings.TrimSpace(s)
	if n := len(t); n > 0 {
		switch t[n-1] {
		case 'k', 'K', 'm', 'M', 'g', 'G', 't', 'T':
			t += "iB"
		}
	}
	return humanize.ParseBytes(t)
}

// ByteSize is a size in bytes that accepts human-readable text ("16K", "1 MiB").
type ByteSize uint64

// UnmarshalText implements encoding.TextUnmarshaler (yaml, toml and flags).
func (b *ByteSize) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*b = 0
		return nil
	}
	n, err := ParseSize(s)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%d", uint64(b))), nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Set implements pflag.Value.
func (b *ByteSize) Set(s string) error { return b.UnmarshalText([]byte(s)) }

// Type implements pflag.Value.
func (b *ByteSize) Type() string { return "size" }
