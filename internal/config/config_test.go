package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FULFILLMENT_STORE", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 24*time.Hour, cfg.Payment.Window)
	assert.Equal(t, time.Hour, cfg.Payment.ReminderLead)
	assert.Equal(t, 30*time.Minute, cfg.Payment.WarningLead)
	assert.Equal(t, 15*time.Minute, cfg.Payment.Interval)
	assert.Equal(t, time.Hour, cfg.Pickup.Interval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.SchedulerEnabled)
	assert.False(t, cfg.SMTP.Enabled())
	assert.Equal(t, "Asia/Jakarta", cfg.Venue.Timezone)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FULFILLMENT_STORE", "memory")
	t.Setenv("PAYMENT_WINDOW", "2h")
	t.Setenv("PAYMENT_REMINDER_LEAD", "30m")
	t.Setenv("PAYMENT_WARNING_LEAD", "10m")
	t.Setenv("PAYMENT_SWEEP_INTERVAL", "5m")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PICKUP_SWEEP_BATCH", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Payment.Window)
	assert.Equal(t, 10*time.Minute, cfg.Payment.WarningLead)
	assert.Equal(t, 5*time.Minute, cfg.Payment.Interval)
	assert.False(t, cfg.SchedulerEnabled)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 500, cfg.Pickup.BatchSize)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FULFILLMENT_STORE=memory\nFULFILLMENT_HTTP_ADDR=:9090\n"), 0o600))
	t.Setenv("FULFILLMENT_STORE", "memory")
	t.Setenv("FULFILLMENT_HTTP_ADDR", "")
	os.Unsetenv("FULFILLMENT_HTTP_ADDR")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
}

func TestValidateRejectsBadWindows(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FULFILLMENT_STORE", "memory")
	t.Setenv("PAYMENT_REMINDER_LEAD", "10m")
	t.Setenv("PAYMENT_WARNING_LEAD", "20m")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PAYMENT_WARNING_LEAD", "5m")
	t.Setenv("FULFILLMENT_STORE", "sqlite")
	_, err = Load()
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestLoadVenue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: Perdami Booth B
address: Hall 2, Bandung Convention Center
hours: "10:00-20:00"
timezone: Asia/Makassar
contact: "+62 811 0000 000"
`), 0o600))

	v, err := LoadVenue(path)
	require.NoError(t, err)
	assert.Equal(t, "Perdami Booth B", v.Name)
	assert.Equal(t, "10:00-20:00", v.Hours)
	assert.Equal(t, "Asia/Makassar", v.Location().String())

	v, err = LoadVenue("")
	require.NoError(t, err)
	assert.Equal(t, DefaultVenue().Name, v.Name)

	_, err = LoadVenue(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("timezone: Mars/Olympus\n"), 0o600))
	_, err = LoadVenue(bad)
	assert.Error(t, err)
}

func TestValidateRejectsDegenerateSweeps(t *testing.T) {
	cases := map[string]struct {
		key, value, msg string
	}{
		"payment timeout": {"PAYMENT_SWEEP_TIMEOUT", "0s", "timeouts must be positive"},
		"pickup timeout":  {"PICKUP_SWEEP_TIMEOUT", "-1m", "timeouts must be positive"},
		"payment batch":   {"PAYMENT_SWEEP_BATCH", "0", "batch sizes must be positive"},
		"pickup batch":    {"PICKUP_SWEEP_BATCH", "-5", "batch sizes must be positive"},
		"slow cadence":    {"PAYMENT_SWEEP_INTERVAL", "2h", "exceeds the narrowest reminder window"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("FULFILLMENT_STORE", "memory")
			t.Setenv(tc.key, tc.value)

			_, err := Load()
			assert.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestValidateAcceptsIntervalAtWindowWidth(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FULFILLMENT_STORE", "memory")
	t.Setenv("PAYMENT_SWEEP_INTERVAL", "30m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Payment.Interval)
}
