/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package config loads bridge settings from flags and the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the bridge process configuration.
type Config struct {
	// HTTP
	Host      string
	Port      int
	PublicDir string

	// Calling service credentials
	PhoneNumberID   string
	AccessToken     string
	VerifyToken     string
	AppSecret       string
	GraphBaseURL    string
	GraphAPIVersion string

	// TURN relay credentials. STUN only when empty.
	TURNUsername   string
	TURNCredential string

	AcceptDelay   time.Duration
	GatherTimeout time.Duration

	// DatabaseURL enables PostgreSQL call history. Memory otherwise.
	DatabaseURL string

	LogLevel    string
	Development bool
}

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Port:            10000,
		GraphBaseURL:    "https://graph.facebook.com",
		GraphAPIVersion: "v19.0",
		AcceptDelay:     time.Second,
		GatherTimeout:   5 * time.Second,
		LogLevel:        "info",
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load parses args and then applies environment overrides.
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	fs := flag.NewFlagSet("wacall-bridge", flag.ContinueOnError)
	fs.StringVar(&cfg.Host, "host", cfg.Host, "HTTP bind host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP listening port")
	fs.StringVar(&cfg.PublicDir, "public", cfg.PublicDir, "Directory of static browser assets")
	fs.StringVar(&cfg.PhoneNumberID, "phone-number-id", cfg.PhoneNumberID, "Business phone number id")
	fs.StringVar(&cfg.GraphBaseURL, "graph-url", cfg.GraphBaseURL, "Graph API base URL")
	fs.StringVar(&cfg.GraphAPIVersion, "graph-version", cfg.GraphAPIVersion, "Graph API version")
	fs.DurationVar(&cfg.AcceptDelay, "accept-delay", cfg.AcceptDelay, "Delay between pre_accept and accept")
	fs.DurationVar(&cfg.GatherTimeout, "gather-timeout", cfg.GatherTimeout, "ICE gathering timeout")
	fs.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.Development, "dev", cfg.Development, "Human readable console logging")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Port = p
	}
	setString(&cfg.Host, "HOST")
	setString(&cfg.PublicDir, "PUBLIC_DIR")
	setString(&cfg.PhoneNumberID, "PHONE_NUMBER_ID")
	setString(&cfg.AccessToken, "ACCESS_TOKEN")
	setString(&cfg.VerifyToken, "VERIFY_TOKEN")
	setString(&cfg.AppSecret, "APP_SECRET")
	setString(&cfg.GraphBaseURL, "GRAPH_BASE_URL")
	setString(&cfg.GraphAPIVersion, "GRAPH_API_VERSION")
	setString(&cfg.TURNUsername, "TURN_USERNAME")
	setString(&cfg.TURNCredential, "TURN_CREDENTIAL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	if delay := os.Getenv("ACCEPT_DELAY"); delay != "" {
		d, err := time.ParseDuration(delay)
		if err != nil {
			return nil, fmt.Errorf("invalid ACCEPT_DELAY %q: %w", delay, err)
		}
		cfg.AcceptDelay = d
	}

	return cfg, nil
}

// Validate reports missing credentials and out of range values.
func (c *Config) Validate() error {
	var errs []error
	if c.PhoneNumberID == "" {
		errs = append(errs, errors.New("PHONE_NUMBER_ID is required"))
	}
	if c.AccessToken == "" {
		errs = append(errs, errors.New("ACCESS_TOKEN is required"))
	}
	if c.VerifyToken == "" {
		errs = append(errs, errors.New("VERIFY_TOKEN is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.AcceptDelay < 0 {
		errs = append(errs, fmt.Errorf("accept delay %s is negative", c.AcceptDelay))
	}
	if (c.TURNUsername == "") != (c.TURNCredential == "") {
		errs = append(errs, errors.New("TURN_USERNAME and TURN_CREDENTIAL must be set together"))
	}
	return errors.Join(errs...)
}

// NewLogger builds a JSON production logger, or a console logger in
// development mode, at the given level.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zc := zap.NewProductionConfig()
	if development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
