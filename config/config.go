/*
Package config loads service configuration and builds the logger.

SOURCES (later wins):
  1. Defaults below
  2. .env file (optional; existing environment variables are kept)
  3. Environment variables, PAYROLL_ prefix, dots become underscores:
     PAYROLL_DB_DSN, PAYROLL_NOTIFY_DRIVER, PAYROLL_ATTENDANCE_PERFECT_BONUS
  4. Command-line flags bound by cmd/payrolld

KEYS:
  http.port                   HTTP listen port (8080)
  db.driver                   sqlite3 | postgres
  db.dsn                      Path or connection string
  log.level                   debug | info | warn | error
  log.development             Human-readable console logs
  notify.driver               log | sendgrid
  notify.sendgrid_key         SendGrid API key
  notify.from_email           Sender address
  notify.app_name             Sender name and subject prefix
  attendance.perfect_bonus    Bonus at 100% attendance (2000)
  attendance.high_bonus       Bonus at or above high_rate (1000)
  attendance.high_rate        95
  attendance.penalty_rate     Absences penalized below this rate (80)
  attendance.absence_penalty  Per absent record (500)
  attendance.lateness_penalty Per late record (100)
*/
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/payroll"
)

const EnvPrefix = "PAYROLL"

type Config struct {
	Port int

	DBDriver string
	DBDSN    string

	LogLevel       string
	LogDevelopment bool

	NotifyDriver string
	SendGridKey  string
	FromEmail    string
	AppName      string

	Attendance payroll.AttendancePolicy
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("http.port", 8080)
	v.SetDefault("db.driver", "sqlite3")
	v.SetDefault("db.dsn", "./data/payroll.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("notify.driver", "log")
	v.SetDefault("notify.sendgrid_key", "")
	v.SetDefault("notify.from_email", "noreply@localhost")
	v.SetDefault("notify.app_name", "Payroll")

	def := payroll.DefaultAttendancePolicy()
	v.SetDefault("attendance.perfect_bonus", def.PerfectBonus.String())
	v.SetDefault("attendance.high_bonus", def.HighBonus.String())
	v.SetDefault("attendance.high_rate", def.HighRate.String())
	v.SetDefault("attendance.penalty_rate", def.PenaltyRate.String())
	v.SetDefault("attendance.absence_penalty", def.AbsencePenalty.String())
	v.SetDefault("attendance.lateness_penalty", def.LatenessPenalty.String())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads envFile (if it exists) into the environment and decodes v.
func Load(v *viper.Viper, envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: stat %s: %w", envFile, err)
		}
	}

	cfg := Config{
		Port:           v.GetInt("http.port"),
		DBDriver:       v.GetString("db.driver"),
		DBDSN:          v.GetString("db.dsn"),
		LogLevel:       v.GetString("log.level"),
		LogDevelopment: v.GetBool("log.development"),
		NotifyDriver:   v.GetString("notify.driver"),
		SendGridKey:    v.GetString("notify.sendgrid_key"),
		FromEmail:      v.GetString("notify.from_email"),
		AppName:        v.GetString("notify.app_name"),
	}

	policy, err := attendancePolicy(v)
	if err != nil {
		return Config{}, err
	}
	cfg.Attendance = policy

	switch cfg.NotifyDriver {
	case "log":
	case "sendgrid":
		if cfg.SendGridKey == "" {
			return Config{}, fmt.Errorf("config: notify.sendgrid_key is required for the sendgrid driver")
		}
	default:
		return Config{}, fmt.Errorf("config: unknown notify.driver %q", cfg.NotifyDriver)
	}
	return cfg, nil
}

func attendancePolicy(v *viper.Viper) (payroll.AttendancePolicy, error) {
	var p payroll.AttendancePolicy
	fields := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"attendance.perfect_bonus", &p.PerfectBonus},
		{"attendance.high_bonus", &p.HighBonus},
		{"attendance.high_rate", &p.HighRate},
		{"attendance.penalty_rate", &p.PenaltyRate},
		{"attendance.absence_penalty", &p.AbsencePenalty},
		{"attendance.lateness_penalty", &p.LatenessPenalty},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(v.GetString(f.key))
		if err != nil {
			return payroll.AttendancePolicy{}, fmt.Errorf("config: %s: %w", f.key, err)
		}
		*f.dst = d
	}
	return p, nil
}

// NewLogger builds a production (JSON) or development (console) logger.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("config: log.level: %w", err)
	}
	cfg.Level = lvl
	return cfg.Build()
}
