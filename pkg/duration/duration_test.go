package duration

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"15s", 15 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"2d", 48 * time.Hour, false},
		{" 5m ", 5 * time.Minute, false},
		{"-1m", 0, true},
		{"xd", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got.Duration() != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDuration_JSON(t *testing.T) {
	d := Duration(5 * time.Minute)
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	if string(b) != `"5m0s"` {
		t.Errorf("expected '\"5m0s\"', got %s", string(b))
	}

	var fromString Duration
	if err := json.Unmarshal([]byte(`"1d"`), &fromString); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	if fromString.Duration() != 24*time.Hour {
		t.Errorf("expected 24h, got %v", fromString)
	}

	var fromNanos Duration
	if err := json.Unmarshal([]byte(`1000000000`), &fromNanos); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	if fromNanos.Duration() != time.Second {
		t.Errorf("expected 1s, got %v", fromNanos)
	}

	var bad Duration
	if err := json.Unmarshal([]byte(`true`), &bad); err == nil {
		t.Error("expected error for boolean duration")
	}
}

func TestDuration_YAML(t *testing.T) {
	var cfg struct {
		Poll  Duration `yaml:"poll"`
		Lease Duration `yaml:"lease"`
	}

	input := "poll: 30\nlease: 10m\n"
	if err := yaml.Unmarshal([]byte(input), &cfg); err != nil {
		t.Fatalf("yaml.Unmarshal failed: %v", err)
	}
	if cfg.Poll.Duration() != 30*time.Second {
		t.Errorf("poll = %v, want 30s", cfg.Poll)
	}
	if cfg.Lease.Duration() != 10*time.Minute {
		t.Errorf("lease = %v, want 10m", cfg.Lease)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("yaml.Marshal failed: %v", err)
	}
	if string(out) != "poll: 30s\nlease: 10m0s\n" {
		t.Errorf("unexpected yaml output %q", string(out))
	}
}

func TestDuration_YAMLNegative(t *testing.T) {
	var cfg struct {
		Poll Duration `yaml:"poll"`
	}
	err := yaml.Unmarshal([]byte("poll: -5\n"), &cfg)
	if !errors.Is(err, ErrNegative) {
		t.Errorf("expected ErrNegative, got %v", err)
	}
}
