package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/payroll"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "log", cfg.NotifyDriver)
	def := payroll.DefaultAttendancePolicy()
	assert.True(t, def.PerfectBonus.Equal(cfg.Attendance.PerfectBonus))
	assert.True(t, def.PenaltyRate.Equal(cfg.Attendance.PenaltyRate))
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PAYROLL_HTTP_PORT", "9090")
	t.Setenv("PAYROLL_DB_DRIVER", "postgres")
	t.Setenv("PAYROLL_DB_DSN", "postgres://localhost/payroll?sslmode=disable")
	t.Setenv("PAYROLL_ATTENDANCE_ABSENCE_PENALTY", "750.50")

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "postgres://localhost/payroll?sslmode=disable", cfg.DBDSN)
	assert.Equal(t, "750.5", cfg.Attendance.AbsencePenalty.String())
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PAYROLL_NOTIFY_APP_NAME=Greenhill Payroll\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PAYROLL_NOTIFY_APP_NAME") })

	cfg, err := config.Load(config.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "Greenhill Payroll", cfg.AppName)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := config.Load(config.New(), filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"sendgrid without key", map[string]string{"PAYROLL_NOTIFY_DRIVER": "sendgrid"}},
		{"unknown notifier", map[string]string{"PAYROLL_NOTIFY_DRIVER": "pigeon"}},
		{"non-decimal bonus", map[string]string{"PAYROLL_ATTENDANCE_PERFECT_BONUS": "lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(config.New(), "")
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := config.NewLogger("debug", true)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = config.NewLogger("chatty", false)
	assert.Error(t, err)
}
