package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("JOBFLOW_TEST_STATE", "/var/tmp/run.state")
	path := writeFile(t, t.TempDir(), "jobflow.yaml", `
workers: 4
command: [gzip, "-k", "{}"]
statefile: ${JOBFLOW_TEST_STATE}
delayed_flush: true
bulk: 8K
limits: "mem=512M,cpu=30"
eof: END
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, []string{"gzip", "-k", "{}"}, cfg.Command)
	assert.Equal(t, "/var/tmp/run.state", cfg.StateFile)
	assert.True(t, cfg.DelayedFlush)
	assert.Equal(t, ByteSize(8192), cfg.Bulk)
	assert.Equal(t, LimitList{{Kind: LimitAddressSpace, Value: 512 << 20}, {Kind: LimitCPUTime, Value: 30}}, cfg.Limits)
	assert.Equal(t, "END", cfg.EOFSentinel)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unset fields keep defaults")
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "jobflow.toml", `
workers = 3
command = ["./worker.sh"]
bulk = "16KiB"
buffered = true
join_output = true

[journal]
path = "runs.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, ModeForward, cfg.Mode())
	assert.Equal(t, ByteSize(16384), cfg.Bulk)
	assert.True(t, cfg.Buffered)
	assert.True(t, cfg.JoinOutput)
	assert.Equal(t, "runs.db", cfg.Journal.Path)
	require.NoError(t, Validate(cfg))
}

func TestLoadRejectsUnknownYAMLField(t *testing.T) {
	path := writeFile(t, t.TempDir(), "jobflow.yaml", "threads: 4\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadCommandLine(t *testing.T) {
	dir := t.TempDir()

	path := writeFile(t, dir, "jobflow.yaml", `command_line: sh -c 'gzip -9 "{}"'`+"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"sh", "-c", `gzip -9 "{}"`}, cfg.Command)
	assert.Empty(t, cfg.CommandLine)
	assert.Equal(t, ModeSubstitute, cfg.Mode())

	path = writeFile(t, dir, "both.toml", "command = [\"cat\"]\ncommand_line = \"cat -n\"\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")

	path = writeFile(t, dir, "open.yaml", `command_line: "echo 'unterminated"`+"\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse command_line")
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "jobflow.yaml", "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestDiscoverConfigFileEnv(t *testing.T) {
	path := writeFile(t, t.TempDir(), "custom.yaml", "workers: 2\n")
	t.Setenv("JOBFLOW_CONFIG", path)

	got, err := DiscoverConfigFile()
	require.NoError(t, err)
	assert.Equal(t, path, got)

	t.Setenv("JOBFLOW_CONFIG", path+".missing")
	_, err = DiscoverConfigFile()
	assert.Error(t, err)
}

func TestMode(t *testing.T) {
	tests := []struct {
		command []string
		want    Mode
	}{
		{nil, ModeCat},
		{[]string{"echo", "{}"}, ModeSubstitute},
		{[]string{"mv", "{}", "{.}.bak"}, ModeSubstitute},
		{[]string{"convert", "{.}"}, ModeSubstitute},
		{[]string{"worker", "--id", "{#}"}, ModeForward},
		{[]string{"cat"}, ModeForward},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.command, " "), func(t *testing.T) {
			cfg := Defaults()
			cfg.Command = tt.command
			assert.Equal(t, tt.want, cfg.Mode())
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero workers", mutate: func(c *Config) { c.Workers = 0 }, wantErr: "workers must be at least 1"},
		{name: "bulk granularity", mutate: func(c *Config) { c.Command = []string{"cat"}; c.Bulk = 5000 }, wantErr: "multiple of 4096"},
		{name: "bulk in substitute mode", mutate: func(c *Config) { c.Command = []string{"echo", "{}"}; c.Bulk = 4096 }, wantErr: "bulk mode cannot"},
		{name: "bulk in forward mode", mutate: func(c *Config) { c.Command = []string{"cat"}; c.Bulk = 8192 }},
		{name: "resume without statefile", mutate: func(c *Config) { c.Resume = true }, wantErr: "resume needs a statefile"},
		{name: "delayed flush without statefile", mutate: func(c *Config) { c.DelayedFlush = true }, wantErr: "needs a statefile"},
		{name: "join without buffered", mutate: func(c *Config) { c.JoinOutput = true }, wantErr: "requires buffered"},
		{name: "limits in cat mode", mutate: func(c *Config) { c.Limits = LimitList{{Kind: LimitCPUTime, Value: 1}} }, wantErr: "need a command"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "log.level"},
		{name: "unresolved statefile env", mutate: func(c *Config) { c.StateFile = "${NOPE_NOT_SET}/s" }, wantErr: "${NOPE_NOT_SET}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLimit(t *testing.T) {
	l, err := ParseLimit("mem=1GiB")
	require.NoError(t, err)
	assert.Equal(t, Limit{Kind: LimitAddressSpace, Value: 1 << 30}, l)

	l, err = ParseLimit("nofile=64")
	require.NoError(t, err)
	assert.Equal(t, Limit{Kind: LimitOpenFiles, Value: 64}, l)

	_, err = ParseLimit("cpu=10s")
	assert.Error(t, err)
	_, err = ParseLimit("gpu=1")
	assert.Error(t, err)
	_, err = ParseLimit("stack")
	assert.Error(t, err)
}

func TestParseSizeBinarySuffixes(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"64K", 64 << 10},
		{"16k", 16 << 10},
		{"4K", 4096},
		{"1G", 1 << 30},
		{"2 M", 2 << 20},
		{"64KiB", 64 << 10},
		{"64KB", 64000},
		{"8192", 8192},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	var b ByteSize
	require.NoError(t, b.Set("64K"))
	assert.Equal(t, ByteSize(65536), b)
	cfg := Defaults()
	cfg.Command = []string{"cat"}
	cfg.Bulk = b
	assert.NoError(t, Validate(cfg), "64K is a whole number of pages")

	l, err := ParseLimit("mem=1G")
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<30), l.Value)
}

func TestLimitListSetAccumulatesAndReplaces(t *testing.T) {
	var ll LimitList
	require.NoError(t, ll.Set("cpu=10,stack=8MiB"))
	require.NoError(t, ll.Set("cpu=20"))

	assert.Equal(t, LimitList{{Kind: LimitCPUTime, Value: 20}, {Kind: LimitStack, Value: 8 << 20}}, ll)
	assert.Equal(t, "cpu=20,stack=8.0 MiB", ll.String())
}

func TestFingerprint(t *testing.T) {
	a := Defaults()
	a.Command = []string{"echo", "{}"}
	b := Defaults()
	b.Command = []string{"echo", "{}"}
	b.Workers = 8
	c := Defaults()
	c.Command = []string{"echo {}"}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)
}
