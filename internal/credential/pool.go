package credential

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Errors
var (
	ErrNoCredentials  = errors.New("no credentials configured")
	ErrAllCoolingDown = errors.New("all credentials cooling down")
)

// Outcome classifies the result of a request made with a credential.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeTransient
	OutcomeQuotaExhausted
	OutcomeAuthFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTransient:
		return "transient"
	case OutcomeQuotaExhausted:
		return "quota_exhausted"
	case OutcomeAuthFailed:
		return "auth_failed"
	}
	return "unknown"
}

// Strategy selects how the pool rotates credentials.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyLeastUsed  Strategy = "least_used"
)

// Credential is a single provider credential.
type Credential struct {
	ID     string // Stable identifier (e.g. env var name)
	Key    string
	Secret string
}

// Config configures a Pool.
type Config struct {
	Strategy      Strategy       // Rotation strategy (default: round_robin)
	QuotaPerDay   int            // Requests per day per credential, 0 = untracked
	SafetyMargin  float64        // Fraction of quota usable before cooldown (default: 0.95)
	ResetLocation *time.Location // Timezone of the provider's daily reset (default: UTC)
}

// credState holds mutable per-credential state. Each credential has its
// own lock so a slow report on one never blocks acquisition of another.
type credState struct {
	mu sync.Mutex

	cred          Credential
	usageCount    int64
	resetDay      string    // Day (in reset tz) the counters belong to
	cooldownUntil time.Time // Zero when not cooling down
	disabled      bool      // Set on auth failure; never cleared
}

// Pool rotates provider credentials and tracks quota state.
type Pool struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex // guards next and switches only
	next     int
	switches int64

	states []*credState
}

// Stats is a point-in-time snapshot of pool usage.
type Stats struct {
	Credentials int
	Available   int
	Switches    int64
	TotalUsage  int64
}

// NewPool creates a pool over the given credentials.
func NewPool(creds []Credential, cfg Config, logger *slog.Logger) (*Pool, error) {
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyRoundRobin
	}
	if cfg.SafetyMargin <= 0 || cfg.SafetyMargin > 1 {
		cfg.SafetyMargin = 0.95
	}
	if cfg.ResetLocation == nil {
		cfg.ResetLocation = time.UTC
	}

	p := &Pool{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, c := range creds {
		p.states = append(p.states, &credState{cred: c})
	}

	logger.Info("credential pool initialized",
		"credentials", len(creds),
		"strategy", cfg.Strategy,
		"quota_per_day", cfg.QuotaPerDay,
	)
	return p, nil
}

// Acquire returns a credential that is not cooling down, chosen by the
// configured strategy. Returns ErrAllCoolingDown when every credential
// is unavailable; callers treat that as transient and wait or defer.
func (p *Pool) Acquire() (Credential, error) {
	switch p.cfg.Strategy {
	case StrategyLeastUsed:
		return p.acquireLeastUsed()
	default:
		return p.acquireRoundRobin()
	}
}

func (p *Pool) acquireRoundRobin() (Credential, error) {
	p.mu.Lock()
	start := p.next
	p.mu.Unlock()

	now := p.now()
	for i := 0; i < len(p.states); i++ {
		idx := (start + i) % len(p.states)
		s := p.states[idx]

		if !s.available(now, p.cfg) {
			continue
		}

		p.mu.Lock()
		p.next = (idx + 1) % len(p.states)
		if idx != start {
			p.switches++
		}
		p.mu.Unlock()
		return s.cred, nil
	}
	return Credential{}, ErrAllCoolingDown
}

func (p *Pool) acquireLeastUsed() (Credential, error) {
	now := p.now()

	var best *credState
	var bestUsage int64
	for _, s := range p.states {
		if !s.available(now, p.cfg) {
			continue
		}
		s.mu.Lock()
		usage := s.usageCount
		s.mu.Unlock()
		if best == nil || usage < bestUsage {
			best = s
			bestUsage = usage
		}
	}
	if best == nil {
		return Credential{}, ErrAllCoolingDown
	}

	p.mu.Lock()
	p.switches++
	p.mu.Unlock()
	return best.cred, nil
}

// ReportResult records the outcome of a request made with the given
// credential. Quota exhaustion places the credential in cooldown until
// the provider's next daily reset boundary. Auth failure disables it.
func (p *Pool) ReportResult(id string, outcome Outcome) {
	s := p.find(id)
	if s == nil {
		p.logger.Warn("report for unknown credential", "credential", id)
		return
	}

	now := p.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetIfNewDay(now, p.cfg.ResetLocation)
	s.usageCount++

	switch outcome {
	case OutcomeQuotaExhausted:
		s.cooldownUntil = nextResetBoundary(now, p.cfg.ResetLocation)
		p.logger.Warn("credential quota exhausted, cooling down",
			"credential", id,
			"until", s.cooldownUntil,
		)
	case OutcomeAuthFailed:
		s.disabled = true
		p.logger.Error("credential authentication failed, disabled",
			"credential", id,
		)
	}
}

// AllExhausted reports whether every credential is currently
// unavailable (cooling down or disabled).
func (p *Pool) AllExhausted() bool {
	now := p.now()
	for _, s := range p.states {
		if s.available(now, p.cfg) {
			return false
		}
	}
	return true
}

// Stats returns a snapshot of pool usage.
func (p *Pool) Stats() Stats {
	now := p.now()

	st := Stats{Credentials: len(p.states)}
	for _, s := range p.states {
		if s.available(now, p.cfg) {
			st.Available++
		}
		s.mu.Lock()
		st.TotalUsage += s.usageCount
		s.mu.Unlock()
	}

	p.mu.Lock()
	st.Switches = p.switches
	p.mu.Unlock()
	return st
}

func (p *Pool) find(id string) *credState {
	for _, s := range p.states {
		if s.cred.ID == id {
			return s
		}
	}
	return nil
}

// available checks cooldown, quota, and disablement, resetting daily
// counters lazily when the reset boundary has been crossed.
func (s *credState) available(now time.Time, cfg Config) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return false
	}

	s.resetIfNewDay(now, cfg.ResetLocation)

	if !s.cooldownUntil.IsZero() && now.Before(s.cooldownUntil) {
		return false
	}

	if cfg.QuotaPerDay > 0 {
		limit := int64(float64(cfg.QuotaPerDay) * cfg.SafetyMargin)
		if s.usageCount >= limit {
			return false
		}
	}
	return true
}

// resetIfNewDay clears daily counters and cooldown once the provider's
// reset boundary has passed. Caller holds s.mu.
func (s *credState) resetIfNewDay(now time.Time, loc *time.Location) {
	today := now.In(loc).Format("2006-01-02")
	if s.resetDay == today {
		return
	}
	s.resetDay = today
	s.usageCount = 0
	if !s.cooldownUntil.IsZero() && !now.Before(s.cooldownUntil) {
		s.cooldownUntil = time.Time{}
	}
}

// nextResetBoundary returns the next daily reset instant: midnight of
// the following day in the provider's reset timezone.
func nextResetBoundary(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return next
}

// LoadFromEnv reads numbered credentials from the environment:
// {prefix}_KEY_1..{maxKeys} paired with {prefix}_SECRET_1..{maxKeys}.
// Credentials are supplied out-of-band; a missing secret for a present
// key is an error rather than a silently unusable credential.
func LoadFromEnv(prefix string, maxKeys int) ([]Credential, error) {
	var creds []Credential
	for i := 1; i <= maxKeys; i++ {
		keyName := fmt.Sprintf("%s_KEY_%d", prefix, i)
		key := strings.TrimSpace(os.Getenv(keyName))
		if key == "" {
			continue
		}
		secret := strings.TrimSpace(os.Getenv(fmt.Sprintf("%s_SECRET_%d", prefix, i)))
		if secret == "" {
			return nil, fmt.Errorf("credential %s has no matching secret", keyName)
		}
		creds = append(creds, Credential{ID: keyName, Key: key, Secret: secret})
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("%w: set %s_KEY_1..%s_KEY_%d", ErrNoCredentials, prefix, prefix, maxKeys)
	}
	return creds, nil
}
