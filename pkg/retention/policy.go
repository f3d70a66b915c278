// Package retention decides which delivered backups have expired and removes
// them, tolerating per-entry failures.
package retention

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Policy is a retention window. Every component is additive.
type Policy struct {
	Weeks   float64 `mapstructure:"weeks"`
	Days    float64 `mapstructure:"days"`
	Hours   float64 `mapstructure:"hours"`
	Minutes float64 `mapstructure:"minutes"`
	Seconds float64 `mapstructure:"seconds"`
}

// maxWindow bounds the total window so it converts to a time.Duration.
const maxWindow = float64(math.MaxInt64)

// ParsePolicy decodes a retention block from plugin configuration.
// A nil or empty block yields a nil policy, meaning backups are kept
// indefinitely.
func ParsePolicy(raw any) (*Policy, error) {
	if raw == nil {
		return nil, nil
	}
	if v := reflect.ValueOf(raw); v.Kind() == reflect.Map && v.Len() == 0 {
		return nil, nil
	}

	var p Policy
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("create retention decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid retention: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid retention: %w", err)
	}
	return &p, nil
}

func (p *Policy) validate() error {
	components := []struct {
		name  string
		value float64
	}{
		{"weeks", p.Weeks},
		{"days", p.Days},
		{"hours", p.Hours},
		{"minutes", p.Minutes},
		{"seconds", p.Seconds},
	}
	for _, c := range components {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			return fmt.Errorf("%s is not a number", c.name)
		}
		if c.value < 0 {
			return fmt.Errorf("%s must not be negative, got %v", c.name, c.value)
		}
	}
	if p.total() >= maxWindow {
		return fmt.Errorf("window is too large")
	}
	return nil
}

func (p *Policy) total() float64 {
	return p.Weeks*7*24*float64(time.Hour) +
		p.Days*24*float64(time.Hour) +
		p.Hours*float64(time.Hour) +
		p.Minutes*float64(time.Minute) +
		p.Seconds*float64(time.Second)
}

// Duration resolves the policy into a single duration.
func (p *Policy) Duration() time.Duration {
	if p == nil {
		return 0
	}
	total := p.total()
	if total >= maxWindow {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(total)
}

// Enabled reports whether pruning should happen at all.
func (p *Policy) Enabled() bool {
	return p != nil
}

// Threshold returns now minus the retention window. Entries strictly older
// than the threshold are expired.
func (p *Policy) Threshold(now time.Time) time.Time {
	return now.Add(-p.Duration())
}

// String renders the window for logs.
func (p *Policy) String() string {
	if p == nil {
		return "indefinite"
	}
	return p.Duration().String()
}
