// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/MiltronBee/leave-engine/absence"
	"github.com/MiltronBee/leave-engine/reservation"
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"` // text | json

	Server struct {
		Port            int      `env:"PORT" envDefault:"8080"`
		CORSOrigins     []string `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
		ReadTimeout     int      `env:"READ_TIMEOUT" envDefault:"10"`
		WriteTimeout    int      `env:"WRITE_TIMEOUT" envDefault:"30"`
		IdleTimeout     int      `env:"IDLE_TIMEOUT" envDefault:"60"`
		ShutdownTimeout int      `env:"SHUTDOWN_TIMEOUT" envDefault:"10"`
	} `envPrefix:"SERVER_"`

	Database struct {
		Path string `env:"PATH" envDefault:"leave.db"`
	} `envPrefix:"DATABASE_"`

	// Seed is an optional YAML document with rules, bands and directory
	// records loaded at startup.
	Seed struct {
		File string `env:"FILE"`
	} `envPrefix:"SEED_"`

	RabbitMQ struct {
		DSN            string `env:"DSN"`
		Queue          string `env:"QUEUE" envDefault:"leave_notice_queue"`
		PublishTimeout int    `env:"PUBLISH_TIMEOUT" envDefault:"10"`
	} `envPrefix:"RABBITMQ_"`

	Redis struct {
		Host     string `env:"HOST"`
		Port     int    `env:"PORT" envDefault:"6379"`
		Password string `env:"PASSWORD"`
		// LockTTL bounds how long one process may hold the sweep lease.
		LockTTL int `env:"LOCK_TTL" envDefault:"120"`
	} `envPrefix:"REDIS_"`

	SMTP struct {
		Host     string `env:"HOST"`
		Port     int    `env:"PORT" envDefault:"465"`
		Username string `env:"USERNAME"`
		Password string `env:"PASSWORD"`
		From     string `env:"FROM"`
		SSL      bool   `env:"SSL" envDefault:"true"`
	} `envPrefix:"SMTP_"`

	Allocation struct {
		ExcludedWeeks []int `env:"EXCLUDED_WEEKS" envDefault:"51,52,1,2" envSeparator:","`
		Workers       int   `env:"WORKERS" envDefault:"4"`
		// MaxAbsencePercent enables the group absence limit when > 0.
		MaxAbsencePercent float64 `env:"MAX_ABSENCE_PERCENT" envDefault:"0"`
	} `envPrefix:"ALLOCATION_"`

	Reservation struct {
		Capacity         int           `env:"CAPACITY" envDefault:"5"`
		BlockDuration    time.Duration `env:"BLOCK_DURATION" envDefault:"24h"`
		OverflowDuration time.Duration `env:"OVERFLOW_DURATION" envDefault:"24h"`
		OpenHour         int           `env:"OPEN_HOUR" envDefault:"9"`
		Positions        string        `env:"POSITIONS" envDefault:"seniority"` // seniority | payroll
	} `envPrefix:"RESERVATION_"`

	Sweep struct {
		Interval time.Duration `env:"INTERVAL" envDefault:"5m"`
	} `envPrefix:"SWEEP_"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		aggErr := env.AggregateError{}
		if ok := errors.As(err, &aggErr); ok {
			// first error only keeps the startup log readable
			return nil, aggErr.Errors[0]
		}
		return nil, err
	}
	return cfg, nil
}

// AbsencePolicy converts the configured percentage.
func (c *Config) AbsencePolicy() absence.Policy {
	return absence.Policy{MaxPercent: decimal.NewFromFloat(c.Allocation.MaxAbsencePercent)}
}

// ReservationConfig converts the reservation section.
func (c *Config) ReservationConfig() reservation.Config {
	positions := reservation.Seniority
	if c.Reservation.Positions == "payroll" {
		positions = reservation.PayrollOrder
	}
	return reservation.Config{
		Capacity:         c.Reservation.Capacity,
		BlockDuration:    c.Reservation.BlockDuration,
		OverflowDuration: c.Reservation.OverflowDuration,
		OpenHour:         c.Reservation.OpenHour,
		Absence:          c.AbsencePolicy(),
		Positions:        positions,
	}
}
