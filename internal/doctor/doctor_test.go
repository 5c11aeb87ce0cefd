package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/jobflow/internal/config"
	"github.com/mattjoyce/jobflow/internal/lock"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Workers = 4
	cfg.Command = []string{"gzip", "{}"}
	return cfg
}

func newDoctor(cfg *config.Config) *Doctor {
	d := New(cfg)
	d.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	d.hardLimit = func(config.LimitKind) (uint64, error) { return 1 << 40, nil }
	d.fsType = func(string) (string, error) { return "tmpfs", nil }
	d.numCPU = 4
	return d
}

func hasIssue(issues []Issue, category, substr string) bool {
	for _, i := range issues {
		if i.Category == category && strings.Contains(i.Message, substr) {
			return true
		}
	}
	return false
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig()).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
}

func TestValidate_CatModeNeedsNoCommand(t *testing.T) {
	t.Parallel()
	d := newDoctor(config.Defaults())
	d.lookPath = func(string) (string, error) {
		t.Fatal("lookPath should not be called in cat mode")
		return "", nil
	}
	if r := d.Validate(); !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
}

func TestValidate_ConfigError(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Bulk = 4096
	r := newDoctor(cfg).Validate()
	if r.Valid || !hasIssue(r.Errors, "config", "bulk mode cannot") {
		t.Fatalf("expected bulk config error, got %v", r.Errors)
	}
}

func TestValidate_MissingExecutable(t *testing.T) {
	t.Parallel()
	d := newDoctor(validConfig())
	d.lookPath = func(string) (string, error) { return "", errors.New("executable file not found in $PATH") }
	r := d.Validate()
	if r.Valid || !hasIssue(r.Errors, "command", `"gzip" not found`) {
		t.Fatalf("expected command error, got %v", r.Errors)
	}
}

func TestValidate_StateFile(t *testing.T) {
	t.Parallel()

	t.Run("unwritable directory", func(t *testing.T) {
		cfg := validConfig()
		cfg.StateFile = filepath.Join(t.TempDir(), "missing", "run.state")
		r := newDoctor(cfg).Validate()
		if r.Valid || !hasIssue(r.Errors, "statefile", "not writable") {
			t.Fatalf("expected statefile error, got %v", r.Errors)
		}
	})

	t.Run("existing ledger without resume", func(t *testing.T) {
		cfg := validConfig()
		cfg.StateFile = filepath.Join(t.TempDir(), "run.state")
		if err := os.WriteFile(cfg.StateFile, []byte("42\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		r := newDoctor(cfg).Validate()
		if !r.Valid || !hasIssue(r.Warnings, "statefile", "holds 42") {
			t.Fatalf("expected overwrite warning, got %+v", r)
		}
	})

	t.Run("resume", func(t *testing.T) {
		cfg := validConfig()
		cfg.StateFile = filepath.Join(t.TempDir(), "run.state")
		cfg.Resume = true
		if err := os.WriteFile(cfg.StateFile, []byte("7\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		r := newDoctor(cfg).Validate()
		if !r.Valid || !hasIssue(r.Warnings, "statefile", "after record 7") {
			t.Fatalf("expected resume notice, got %+v", r)
		}
	})

	t.Run("corrupt ledger", func(t *testing.T) {
		cfg := validConfig()
		cfg.StateFile = filepath.Join(t.TempDir(), "run.state")
		if err := os.WriteFile(cfg.StateFile, []byte("not a number\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if r := newDoctor(cfg).Validate(); r.Valid {
			t.Fatalf("expected corrupt ledger to be an error")
		}
	})

	t.Run("locked by another run", func(t *testing.T) {
		cfg := validConfig()
		cfg.StateFile = filepath.Join(t.TempDir(), "run.state")
		held, err := lock.AcquireRunLock(cfg.StateFile)
		if err != nil {
			t.Fatal(err)
		}
		defer held.Release()

		r := newDoctor(cfg).Validate()
		if r.Valid || len(r.Errors) != 1 || r.Errors[0].Category != "statefile" {
			t.Fatalf("expected lock error, got %v", r.Errors)
		}
	})
}

func TestValidate_LimitsAboveHardMaximum(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Limits = config.LimitList{{Kind: config.LimitOpenFiles, Value: 4096}, {Kind: config.LimitCPUTime, Value: 10}}

	d := newDoctor(cfg)
	d.hardLimit = func(kind config.LimitKind) (uint64, error) {
		if kind == config.LimitOpenFiles {
			return 1024, nil
		}
		return 1 << 40, nil
	}
	r := d.Validate()
	if r.Valid || len(r.Errors) != 1 || !hasIssue(r.Errors, "limits", "hard limit of 1024") {
		t.Fatalf("expected one nofiles error, got %v", r.Errors)
	}
	if r.Errors[0].Field != "limits.nofiles" {
		t.Fatalf("field = %q", r.Errors[0].Field)
	}
}

func TestValidate_LimitsUnsupported(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Limits = config.LimitList{{Kind: config.LimitStack, Value: 8 << 20}}

	d := newDoctor(cfg)
	d.hardLimit = func(config.LimitKind) (uint64, error) { return 0, errors.New("unsupported") }
	r := d.Validate()
	if !r.Valid || !hasIssue(r.Warnings, "limits", "cannot read hard limit") {
		t.Fatalf("expected warning only, got %+v", r)
	}
}

func TestValidate_ScratchOnDisk(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Buffered = true
	cfg.TempDir = "/var/tmp"

	d := newDoctor(cfg)
	d.fsType = func(path string) (string, error) {
		if path != "/var/tmp/jobflow" {
			t.Errorf("unexpected scratch path %q", path)
		}
		return "ext4", nil
	}
	r := d.Validate()
	if !r.Valid || !hasIssue(r.Warnings, "scratch", "not a memory filesystem") {
		t.Fatalf("expected scratch warning, got %+v", r)
	}
}

func TestValidate_StatusListen(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Status.Listen = "localhost"
	r := newDoctor(cfg).Validate()
	if r.Valid || !hasIssue(r.Errors, "status", "invalid listen address") {
		t.Fatalf("expected status error, got %v", r.Errors)
	}

	cfg.Status.Listen = "127.0.0.1:8089"
	if r := newDoctor(cfg).Validate(); !r.Valid {
		t.Fatalf("expected valid, got %v", r.Errors)
	}
}

func TestValidate_ManyWorkers(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Workers = 200
	r := newDoctor(cfg).Validate()
	if !r.Valid || !hasIssue(r.Warnings, "workers", "200 workers on 4 CPUs") {
		t.Fatalf("expected worker warning, got %+v", r)
	}
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()

	valid := &Result{Valid: true}
	if got := FormatHuman(valid); got != "Configuration valid.\n" {
		t.Fatalf("FormatHuman(valid) = %q", got)
	}

	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "command", Field: "command[0]", Message: "missing"}},
		Warnings: []Issue{{Category: "scratch", Message: "on disk"}},
	}
	got := FormatHuman(r)
	for _, want := range []string{
		"Configuration invalid (1 error(s), 1 warning(s))",
		"  ERROR [command] command[0]: missing",
		"  WARN  [scratch] on disk",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatHuman missing %q:\n%s", want, got)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true, Warnings: []Issue{{Category: "workers", Message: "many"}}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"valid": true`) || !strings.Contains(out, `"category": "workers"`) {
		t.Fatalf("unexpected JSON: %s", out)
	}
}
