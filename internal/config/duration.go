package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration-valued fields stay Go duration strings in the file so the strict
// JSON decoder covers YAML and JSON alike. Empty means unset; components fall
// back to their own defaults.

func parseDuration(field, value string) (time.Duration, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

// RetryDelay returns publish.retry_delay, or def when unset. Malformed values
// never reach here: Validate rejects them at load time.
func (c *Config) RetryDelay(def time.Duration) time.Duration {
	d, err := parseDuration("publish.retry_delay", c.Publish.RetryDelay)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ReportTimeout returns reporting.timeout, or def when unset.
func (c *Config) ReportTimeout(def time.Duration) time.Duration {
	d, err := parseDuration("reporting.timeout", c.Reporting.Timeout)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
