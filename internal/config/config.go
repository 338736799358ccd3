package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

type APIKey struct {
	ID     string `yaml:"id"`
	Secret string `yaml:"secret"`
}

type Auth struct {
	Header string   `yaml:"header"`
	Keys   []APIKey `yaml:"keys"`
}

// Rule is one path-prefix rate limit rule.
type Rule struct {
	PathPrefix    string `yaml:"path_prefix"`
	MaxRequests   int    `yaml:"max_requests"`
	WindowSeconds int    `yaml:"window_seconds"`
}

// RateLimit is the admission-control configuration surface.
type RateLimit struct {
	Default struct {
		MaxRequests   int `yaml:"max_requests"`
		WindowSeconds int `yaml:"window_seconds"`
	} `yaml:"default"`
	// AnonymousMultiplier scales limits for unauthenticated callers,
	// in [0,1]. Omitted means 1.0 (no reduction).
	AnonymousMultiplier *float64 `yaml:"anonymous_multiplier"`
	ExemptPaths         []string `yaml:"exempt_paths"`
	TrustForwardedFor   bool     `yaml:"trust_forwarded_for"`
	SweepEvery          int      `yaml:"sweep_every"`
	Rules               []Rule   `yaml:"rules"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Auth          Auth          `yaml:"auth"`
	RateLimit     RateLimit     `yaml:"ratelimit"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

// Multiplier returns the anonymous multiplier with its default applied.
func (rl RateLimit) Multiplier() float64 {
	if rl.AnonymousMultiplier == nil {
		return 1.0
	}
	return *rl.AnonymousMultiplier
}

// Load reads, defaults and validates the configuration. A missing or
// invalid default rule is rejected here, at startup, so that request
// handling always has a rule to fall back to.
func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "X-API-Key"
	}
	if cfg.RateLimit.SweepEvery == 0 {
		cfg.RateLimit.SweepEvery = 4096
	}
	if err := cfg.RateLimit.validate(); err != nil {
		return nil, fmt.Errorf("ratelimit config: %w", err)
	}
	return &cfg, nil
}

func (rl RateLimit) validate() error {
	if rl.Default.MaxRequests < 1 || rl.Default.WindowSeconds < 1 {
		return fmt.Errorf("default rule is required (max_requests >= 1, window_seconds >= 1)")
	}
	if m := rl.Multiplier(); m < 0 || m > 1 {
		return fmt.Errorf("anonymous_multiplier must be in [0,1], got %v", m)
	}
	for _, r := range rl.Rules {
		if r.PathPrefix == "" {
			return fmt.Errorf("rule with empty path_prefix")
		}
		if r.MaxRequests < 1 || r.WindowSeconds < 1 {
			return fmt.Errorf("rule %q: max_requests and window_seconds must be >= 1", r.PathPrefix)
		}
	}
	return nil
}
