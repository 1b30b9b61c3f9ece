package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "turretd.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Pins != def.Pins {
		t.Errorf("pins = %+v, want defaults %+v", cfg.Pins, def.Pins)
	}
	if cfg.GPIO.Driver != "rpio" {
		t.Errorf("driver = %q, want rpio", cfg.GPIO.Driver)
	}
}

func TestLoadPartialFileBackfillsDefaults(t *testing.T) {
	path := writeConfig(t, `
[gpio]
driver = "sim"

[motion]
max_speed = 800

[fire]
pulse = "90ms"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GPIO.Driver != "sim" {
		t.Errorf("driver = %q, want sim", cfg.GPIO.Driver)
	}
	if cfg.Motion.MaxSpeed != 800 {
		t.Errorf("max_speed = %v, want 800", cfg.Motion.MaxSpeed)
	}
	if cfg.Fire.Pulse.Duration != 90*time.Millisecond {
		t.Errorf("pulse = %v, want 90ms", cfg.Fire.Pulse.Duration)
	}
	// Untouched sections keep their defaults.
	def := Default()
	if cfg.Pins != def.Pins {
		t.Errorf("pins = %+v, want defaults", cfg.Pins)
	}
	if cfg.Homing.Budget != def.Homing.Budget {
		t.Errorf("homing budget = %d, want default %d", cfg.Homing.Budget, def.Homing.Budget)
	}
	if cfg.Motion.MaxAccel != def.Motion.MaxAccel {
		t.Errorf("max_accel = %v, want default %v", cfg.Motion.MaxAccel, def.Motion.MaxAccel)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `
[gpio]
driver = "spi"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Errorf("err = %v, want unknown driver", err)
	}
}

func TestLoadRejectsDuplicatePins(t *testing.T) {
	path := writeConfig(t, `
[pins]
step_x = 23
dir_x = 23
step_y = 20
dir_y = 21
limit_x = 17
limit_y = 27
fire = 18
estop = 25
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "BCM 23") {
		t.Errorf("err = %v, want duplicate pin error", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
[fire]
pulse = "fast"
`)
	if _, err := Load(path); err == nil {
		t.Error("bad duration accepted")
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}
