// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads service configuration from an optional YAML file
// with environment variable overrides. Environment wins, so container
// deployments can run without a file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/storage/postgres"
)

// Config is the full service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Events        EventsConfig        `yaml:"events"`
	Journal       JournalConfig       `yaml:"journal"`
	Observability ObservabilityConfig `yaml:"observability"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslMode"`
}

type LedgerConfig struct {
	RPCURL string `yaml:"rpcUrl"`
}

type EventsConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"serviceKey"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// defaults returns the configuration used when neither file nor
// environment says otherwise.
func defaults() Config {
	return Config{
		Server: ServerConfig{Port: "12310"},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "trackmed",
			Name:    "trackmed",
			SSLMode: "disable",
		},
		Ledger:        LedgerConfig{RPCURL: "http://localhost:8899"},
		Journal:       JournalConfig{Path: "/var/lib/trackmed/journal"},
		Observability: ObservabilityConfig{OTLPEndpoint: "localhost:4317"},
		RateLimit:     RateLimitConfig{RPS: 10, Burst: 30},
	}
}

// Load reads the YAML file at path when it exists, then applies
// environment overrides. An empty path skips the file step.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envString(&cfg.Server.Port, "TRACKMED_PORT")
	envString(&cfg.Database.Host, "DB_HOST")
	envInt(&cfg.Database.Port, "DB_PORT")
	envString(&cfg.Database.User, "DB_USER")
	envString(&cfg.Database.Password, "DB_PASSWORD")
	envString(&cfg.Database.Name, "DB_NAME")
	envString(&cfg.Database.SSLMode, "DB_SSLMODE")
	envString(&cfg.Ledger.RPCURL, "LEDGER_RPC_URL")
	envString(&cfg.Events.URL, "EVENTS_WS_URL")
	envString(&cfg.Events.ServiceKey, "EVENTS_SERVICE_KEY")
	envString(&cfg.Journal.Path, "JOURNAL_PATH")
	envString(&cfg.Observability.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	envFloat(&cfg.RateLimit.RPS, "RATE_LIMIT_RPS")
	envInt(&cfg.RateLimit.Burst, "RATE_LIMIT_BURST")
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Postgres translates the database section into the store's config.
func (c Config) Postgres() postgres.Config {
	return postgres.Config{
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		DBName:          c.Database.Name,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}
