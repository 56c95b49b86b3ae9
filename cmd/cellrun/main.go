package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Config holds process configuration, loaded from environment variables.
// Command-line flags override it.
type Config struct {
	Addr         string
	SettingsPath string
	LogLevel     string
	Development  bool
	KernelName   string
	MaxSessions  int
}

func loadConfig() Config {
	cfg := Config{
		Addr:        ":8421",
		LogLevel:    "info",
		KernelName:  "python3",
		MaxSessions: 10,
	}

	if v := os.Getenv("CELLRUN_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("CELLRUN_SETTINGS"); v != "" {
		cfg.SettingsPath = v
	}
	if v := os.Getenv("CELLRUN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CELLRUN_DEV"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Development = b
		}
	}
	if v := os.Getenv("CELLRUN_KERNEL"); v != "" {
		cfg.KernelName = v
	}
	if v := os.Getenv("CELLRUN_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSessions = n
		}
	}

	return cfg
}

func main() {
	if err := newRootCmd(loadConfig()).Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
