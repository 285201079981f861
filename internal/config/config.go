package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat client, its UI bridge
// and the development portal simulator.
type Config struct {
	PortalURL      string
	PortalToken    string
	PortalUsername string
	PortalPassword string
	PortalTimeout  time.Duration

	BindAddr         string
	ShutdownTimeout  time.Duration
	AllowAnyOrigin   bool
	MetricsNamespace string

	TimeZone   string
	EndedRule  string
	VoiceInput string

	LogLevel  string
	LogFile   string
	TraceFile string

	SimBindAddr    string
	SimDatabaseURL string
	SimUsers       string
	SimTokenTTL    time.Duration
	SimQuestions   int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		PortalURL:        envOrDefault("WELLCHAT_PORTAL_URL", "http://localhost:8000"),
		PortalToken:      stringsTrimSpace("WELLCHAT_PORTAL_TOKEN"),
		PortalUsername:   stringsTrimSpace("WELLCHAT_PORTAL_USERNAME"),
		PortalPassword:   os.Getenv("WELLCHAT_PORTAL_PASSWORD"),
		BindAddr:         envOrDefault("WELLCHAT_BIND_ADDR", ":8090"),
		MetricsNamespace: envOrDefault("WELLCHAT_METRICS_NAMESPACE", "wellchat"),
		TimeZone:         envOrDefault("WELLCHAT_TIMEZONE", "Local"),
		EndedRule:        strings.ToLower(envOrDefault("WELLCHAT_ENDED_RULE", "any")),
		VoiceInput:       strings.ToLower(envOrDefault("WELLCHAT_VOICE", "off")),
		LogLevel:         strings.ToLower(envOrDefault("WELLCHAT_LOG_LEVEL", "info")),
		LogFile:          stringsTrimSpace("WELLCHAT_LOG_FILE"),
		TraceFile:        stringsTrimSpace("WELLCHAT_TRACE_FILE"),
		SimBindAddr:      envOrDefault("PORTALSIM_BIND_ADDR", ":8000"),
		SimDatabaseURL:   stringsTrimSpace("PORTALSIM_DATABASE_URL"),
		SimUsers:         envOrDefault("PORTALSIM_USERS", "EMP0001:password1,EMP0002:password2"),
		PortalTimeout:    30 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		SimTokenTTL:      30 * time.Minute,
		SimQuestions:     3,
	}

	var err error
	cfg.PortalTimeout, err = durationFromEnv("WELLCHAT_PORTAL_TIMEOUT", cfg.PortalTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("WELLCHAT_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SimTokenTTL, err = durationFromEnv("PORTALSIM_TOKEN_TTL", cfg.SimTokenTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SimQuestions, err = intFromEnv("PORTALSIM_QUESTIONS", cfg.SimQuestions)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("WELLCHAT_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.PortalTimeout <= 0 {
		return Config{}, fmt.Errorf("WELLCHAT_PORTAL_TIMEOUT must be positive")
	}
	if cfg.SimTokenTTL < time.Minute {
		return Config{}, fmt.Errorf("PORTALSIM_TOKEN_TTL must be at least 1m")
	}
	if cfg.SimQuestions <= 0 {
		return Config{}, fmt.Errorf("PORTALSIM_QUESTIONS must be positive")
	}
	switch cfg.EndedRule {
	case "any", "last":
	default:
		return Config{}, fmt.Errorf("invalid WELLCHAT_ENDED_RULE: %q (expected any|last)", cfg.EndedRule)
	}
	switch cfg.VoiceInput {
	case "off", "mock":
	default:
		return Config{}, fmt.Errorf("invalid WELLCHAT_VOICE: %q (expected off|mock)", cfg.VoiceInput)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("invalid WELLCHAT_LOG_LEVEL: %q", cfg.LogLevel)
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	if _, err := ParseUsers(cfg.SimUsers); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Location resolves TimeZone, which decides what "today" means for the page.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.TimeZone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("WELLCHAT_TIMEZONE parse error: %w", err)
	}
	return loc, nil
}

// ParseUsers decodes the simulator's "id:password,id:password" user list.
func ParseUsers(raw string) (map[string]string, error) {
	users := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, password, ok := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" || password == "" {
			return nil, fmt.Errorf("PORTALSIM_USERS parse error: entry %q must be id:password", part)
		}
		users[id] = password
	}
	return users, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
