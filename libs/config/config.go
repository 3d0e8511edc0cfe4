package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var dotenvOnce sync.Once

// loadDotenv reads ENV_FILE (default .env) once. Variables already present in
// the process environment win.
func loadDotenv() {
	dotenvOnce.Do(func() {
		path := os.Getenv("ENV_FILE")
		if path == "" {
			path = ".env"
		}
		if _, err := os.Stat(path); err != nil {
			return
		}
		_ = godotenv.Load(path)
	})
}

func lookup(key string) string {
	loadDotenv()
	return strings.TrimSpace(os.Getenv(key))
}

func String(key, fallback string) string {
	v := lookup(key)
	if v == "" {
		return fallback
	}
	return v
}

func RequiredString(key string) (string, error) {
	v := lookup(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func Port(key, fallback string) (string, error) {
	v := String(key, fallback)
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, v)
	}
	return v, nil
}

func Int(key string, fallback int) int {
	v := lookup(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func Duration(key string, fallback time.Duration) time.Duration {
	v := lookup(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func Bool(key string, fallback bool) bool {
	v := lookup(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// List splits a comma separated value, dropping blanks.
func List(key string) []string {
	var out []string
	for _, part := range strings.Split(lookup(key), ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load fills cfg from the environment using envconfig struct tags.
func Load(prefix string, cfg any) error {
	loadDotenv()
	if err := envconfig.Process(prefix, cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}
