// Package duration provides a Duration type for configuration files and API payloads.
package duration

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNegative is returned when a negative duration is decoded.
var ErrNegative = errors.New("duration must not be negative")

// Duration is a wrapper around time.Duration that supports JSON and YAML marshaling.
//
// Accepted forms: Go duration strings ("15s", "1h30m"), a day suffix ("2d"),
// and bare numbers. Bare numbers are nanoseconds in JSON and seconds in YAML,
// since hand-written config files use seconds.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the string representation of the duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Parse parses a duration string, allowing a whole-day "d" suffix.
func Parse(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return checked(time.Duration(n) * 24 * time.Hour)
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return checked(dur)
}

func checked(d time.Duration) (Duration, error) {
	if d < 0 {
		return 0, ErrNegative
	}
	return Duration(d), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		parsed, err := checked(time.Duration(value))
		if err != nil {
			return err
		}
		*d = parsed
	case string:
		parsed, err := Parse(value)
		if err != nil {
			return err
		}
		*d = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var secs int64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		parsed, err := checked(time.Duration(secs) * time.Second)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
