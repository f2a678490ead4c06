package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envReader reads typed values from the environment. Parse problems fall back to the
// default and are collected, because the logger is not set up yet when config loads.
type envReader struct {
	warnings []string
}

func (r *envReader) warnf(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

func (r *envReader) str(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

// Helper to get float64 env with default
func (r *envReader) float64(key string, fallback float64) float64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		r.warnf("invalid float64 for %s=%q, using default %v", key, valueStr, fallback)
		return fallback
	}
	return val
}

func (r *envReader) int(key string, fallback int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	val, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		r.warnf("invalid int for %s=%q, using default %d", key, valueStr, fallback)
		return fallback
	}
	return val
}

// seconds reads a (possibly fractional) number of seconds.
func (r *envReader) seconds(key string, fallback time.Duration) time.Duration {
	secs := r.float64(key, fallback.Seconds())
	if secs < 0 {
		r.warnf("negative duration for %s, using default %s", key, fallback)
		return fallback
	}
	return time.Duration(secs * float64(time.Second))
}

func (r *envReader) int64(key string, fallback int64) int64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	val, err := strconv.ParseInt(strings.TrimSpace(valueStr), 10, 64)
	if err != nil {
		r.warnf("invalid int64 for %s=%q, using default %d", key, valueStr, fallback)
		return fallback
	}
	return val
}

// mask shows only the last 4 characters of a secret.
func mask(val string) string {
	if len(val) > 4 {
		return "***" + val[len(val)-4:]
	}
	return "***"
}
