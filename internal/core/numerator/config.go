// Package numerator defines contracts for human-readable sequential numbers
// such as factory purchase order numbers.
package numerator

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Strategy defines how numbers are allocated from the backing sequence.
type Strategy int

const (
	// StrategyStrict increments the sequence for every number. Numbers issued
	// inside a rolled back transaction are reused, so there are no gaps.
	StrategyStrict Strategy = iota

	// StrategyCached reserves ranges of numbers and hands them out from memory.
	// A restart loses the rest of the range.
	StrategyCached
)

// ResetPeriod controls when a sequence starts over.
type ResetPeriod string

const (
	ResetYearly  ResetPeriod = "year"
	ResetMonthly ResetPeriod = "month"
	ResetNever   ResetPeriod = "never"
)

// Options configures number allocation.
type Options struct {
	Strategy Strategy
	// RangeSize is how many numbers StrategyCached reserves at once. Default 50.
	RangeSize int64
}

// DefaultOptions returns strict allocation.
func DefaultOptions() *Options {
	return &Options{Strategy: StrategyStrict}
}

// Config describes one numbered series.
type Config struct {
	// Prefix added to all numbers (e.g. "PO").
	Prefix      string
	IncludeYear bool
	// PadWidth is the minimum width of the numeric part. Default 5.
	PadWidth    int
	ResetPeriod ResetPeriod
}

// DefaultConfig returns a yearly series like PO-2026-00001.
func DefaultConfig(prefix string) Config {
	return Config{
		Prefix:      prefix,
		IncludeYear: true,
		PadWidth:    5,
		ResetPeriod: ResetYearly,
	}
}

// Key is the sequence key for cfg in the given period.
func Key(cfg Config, period time.Time) string {
	switch cfg.ResetPeriod {
	case ResetMonthly:
		return fmt.Sprintf("%s_%s", cfg.Prefix, period.Format("2006_01"))
	case ResetYearly:
		return fmt.Sprintf("%s_%s", cfg.Prefix, period.Format("2006"))
	default:
		return cfg.Prefix
	}
}

// Format renders n according to cfg.
func Format(cfg Config, period time.Time, n int64) string {
	width := cfg.PadWidth
	if width <= 0 {
		width = 5
	}
	if cfg.IncludeYear {
		return fmt.Sprintf("%s-%s-%0*d", cfg.Prefix, period.Format("2006"), width, n)
	}
	return fmt.Sprintf("%s-%0*d", cfg.Prefix, width, n)
}

// Parse extracts the numeric part of a formatted number.
// Returns -1 if parsing fails.
func Parse(formatted string) int64 {
	i := strings.LastIndexByte(formatted, '-')
	if i < 0 || i == len(formatted)-1 {
		return -1
	}
	n, err := strconv.ParseInt(formatted[i+1:], 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
