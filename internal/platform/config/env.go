package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// EnvironmentValues merges the .env file, the process environment and WithEnvMap overrides, in
// increasing precedence. main uses it to configure the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	return collectEnv(newLoaderOptions(opts))
}

func collectEnv(o loaderOptions) (map[string]string, error) {
	values := make(map[string]string)
	if o.envFile != "" {
		fileValues, err := godotenv.Read(o.envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", o.envFile, err)
		default:
			for k, v := range fileValues {
				values[k] = v
			}
		}
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			if k, v, ok := strings.Cut(entry, "="); ok && k != "" {
				values[k] = v
			}
		}
	}
	for k, v := range o.envMap {
		values[k] = v
	}
	return values, nil
}

// env reads typed values and remembers which fields failed to parse, so Load can report every
// bad setting in one ValidationError.
type env struct {
	values  map[string]string
	invalid []string
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.values[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) str(key, fallback string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return fallback
}

func (e *env) duration(key string, fallback time.Duration, field string) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.invalid = append(e.invalid, field)
		return fallback
	}
	return d
}

func (e *env) integer(key string, fallback int, field string) int {
	v, ok := e.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.invalid = append(e.invalid, field)
		return fallback
	}
	return n
}

func (e *env) decimal(key, fallback, field string) decimal.Decimal {
	d, err := decimal.NewFromString(e.str(key, fallback))
	if err != nil {
		e.invalid = append(e.invalid, field)
		return decimal.Zero
	}
	return d
}

func (e *env) list(key string) []string {
	v, ok := e.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
