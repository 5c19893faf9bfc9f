package limiter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/subtrack/subtrack/internal/config"
)

// Route classes.
const (
	ClassGeneral        = "general"
	ClassAuth           = "auth"
	ClassSubscription   = "subscription"
	ClassUserManagement = "user-management"
)

// DefaultWindow is shared by all built-in classes.
const DefaultWindow = 15 * time.Minute

// PolicyConfig parameterizes one route class. Namespace defaults to Name.
type PolicyConfig struct {
	Name                   string
	Namespace              string
	Window                 time.Duration
	Max                    int
	Message                string
	SkipSuccessfulRequests bool
}

// DefaultPolicyConfigs returns the built-in route classes in mount order.
func DefaultPolicyConfigs() []PolicyConfig {
	return []PolicyConfig{
		{
			Name:    ClassGeneral,
			Window:  DefaultWindow,
			Max:     100,
			Message: "Too many requests from this IP, please try again later.",
		},
		{
			Name:    ClassAuth,
			Window:  DefaultWindow,
			Max:     5,
			Message: "Too many authentication attempts, please try again later.",
		},
		{
			Name:    ClassSubscription,
			Window:  DefaultWindow,
			Max:     200,
			Message: "Too many subscription requests, please try again later.",
		},
		{
			Name:    ClassUserManagement,
			Window:  DefaultWindow,
			Max:     50,
			Message: "Too many user management requests, please try again later.",
		},
	}
}

// ApplyOverrides merges per-class settings from config onto configs. Zero
// override values keep the existing setting. Unknown classes are an error.
func ApplyOverrides(configs []PolicyConfig, overrides map[string]config.RateLimitPolicyConfig) ([]PolicyConfig, error) {
	out := make([]PolicyConfig, len(configs))
	copy(out, configs)
	if len(overrides) == 0 {
		return out, nil
	}

	index := make(map[string]int, len(out))
	for i, cfg := range out {
		index[cfg.Name] = i
	}

	for name, override := range overrides {
		i, ok := index[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown rate limit policy %q", name)
		}
		if override.Window > 0 {
			out[i].Window = override.Window
		}
		if override.Max > 0 {
			out[i].Max = override.Max
		}
		if msg := strings.TrimSpace(override.Message); msg != "" {
			out[i].Message = msg
		}
		if override.SkipSuccessfulRequests {
			out[i].SkipSuccessfulRequests = true
		}
	}
	return out, nil
}

// Validate checks the config is usable.
func (c PolicyConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("policy name is required")
	}
	if c.Window <= 0 {
		return fmt.Errorf("policy %s: window must be positive", c.Name)
	}
	if c.Max <= 0 {
		return fmt.Errorf("policy %s: max must be positive", c.Name)
	}
	return nil
}

// RetryAfter is the human readable window sent with rejections.
func (c PolicyConfig) RetryAfter() string {
	return FormatWindow(c.Window)
}

// Decision is the outcome of a Policy check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time
	Degraded  bool
}

// Policy enforces one PolicyConfig against its own namespace.
type Policy struct {
	cfg   PolicyConfig
	store *Store
}

// NewPolicy builds a policy over backend.
func NewPolicy(backend Backend, cfg PolicyConfig, opts ...StoreOption) (*Policy, error) {
	if backend == nil {
		return nil, errors.New("rate limit backend is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Namespace) == "" {
		cfg.Namespace = cfg.Name
	}
	if strings.TrimSpace(cfg.Message) == "" {
		cfg.Message = "Too many requests, please try again later."
	}

	return &Policy{
		cfg:   cfg,
		store: NewStore(backend, cfg.Namespace, cfg.Window, opts...),
	}, nil
}

// NewPolicies builds one policy per config, keyed by name.
func NewPolicies(backend Backend, configs []PolicyConfig, opts ...StoreOption) (map[string]*Policy, error) {
	policies := make(map[string]*Policy, len(configs))
	for _, cfg := range configs {
		if _, dup := policies[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate rate limit policy %q", cfg.Name)
		}
		policy, err := NewPolicy(backend, cfg, opts...)
		if err != nil {
			return nil, err
		}
		policies[cfg.Name] = policy
	}
	return policies, nil
}

// Config returns the effective configuration.
func (p *Policy) Config() PolicyConfig {
	return p.cfg
}

// Store exposes the namespaced store.
func (p *Policy) Store() *Store {
	return p.store
}

// Check counts one request for key and decides whether it may proceed. The
// request is rejected only when the count exceeds Max.
func (p *Policy) Check(ctx context.Context, key string) Decision {
	res := p.store.Increment(ctx, key)
	remaining := res.Record.Remaining(int64(p.cfg.Max))

	return Decision{
		Allowed:   res.Record.TotalHits <= int64(p.cfg.Max),
		Limit:     p.cfg.Max,
		Remaining: int(remaining),
		ResetTime: res.Record.ResetTime,
		Degraded:  res.Degraded,
	}
}

// Refund returns one previously counted request for key.
func (p *Policy) Refund(ctx context.Context, key string) {
	p.store.Decrement(ctx, key)
}

// FormatWindow renders d in the largest whole unit, e.g. "15 minutes".
func FormatWindow(d time.Duration) string {
	switch {
	case d <= 0:
		return "0 seconds"
	case d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	default:
		return plural(int64(math.Ceil(d.Seconds())), "second")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
