// Package credentials holds the per-provider API key pools and their
// cool-down state.
package credentials

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ai-gateway-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrNoHealthyCredential is returned when every key for a provider is cooling down
var ErrNoHealthyCredential = errors.New("no healthy credential")

// DefaultCoolDown is used when the pool is built without an explicit cool-down
const DefaultCoolDown = time.Minute

// Credential is a handle to one pooled API key. Its health state stays
// inside the pool.
type Credential struct {
	id       string
	provider models.Provider
	secret   string
}

// ID returns a stable, loggable identifier such as "primary-0"
func (c Credential) ID() string { return c.id }

// Provider returns the provider the key belongs to
func (c Credential) Provider() models.Provider { return c.provider }

// Secret returns the raw API key for upstream authentication
func (c Credential) Secret() string { return c.secret }

type entry struct {
	cred Credential
	// zero when available
	coolingUntil time.Time
}

func (e *entry) available(now time.Time) bool {
	if e.coolingUntil.IsZero() {
		return true
	}
	if !now.Before(e.coolingUntil) {
		e.coolingUntil = time.Time{}
		return true
	}
	return false
}

// Status summarizes pool health for one provider
type Status struct {
	Available   int `json:"available"`
	CoolingDown int `json:"coolingDown"`
}

// Option configures a Pool
type Option func(*Pool)

// WithCoolDown sets how long a rate-limited key is excluded from selection
func WithCoolDown(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.coolDown = d
		}
	}
}

// WithClock replaces time.Now. Useful for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// Pool selects healthy keys round-robin and tracks cool-downs
type Pool struct {
	mu       sync.Mutex
	entries  map[models.Provider][]*entry
	next     map[models.Provider]int
	coolDown time.Duration
	now      func() time.Time
	logger   *logrus.Logger
}

// NewPool builds a pool from the configured secrets per provider
func NewPool(keys map[models.Provider][]string, logger *logrus.Logger, opts ...Option) *Pool {
	p := &Pool{
		entries:  make(map[models.Provider][]*entry),
		next:     make(map[models.Provider]int),
		coolDown: DefaultCoolDown,
		now:      time.Now,
		logger:   logger,
	}
	for _, o := range opts {
		o(p)
	}

	for provider, secrets := range keys {
		for i, secret := range secrets {
			p.entries[provider] = append(p.entries[provider], &entry{
				cred: Credential{
					id:       fmt.Sprintf("%s-%d", provider, i),
					provider: provider,
					secret:   secret,
				},
			})
		}
		logger.WithFields(logrus.Fields{
			"provider": provider,
			"keys":     len(secrets),
		}).Info("Credential pool loaded")
	}

	return p
}

// Acquire returns the next healthy credential for the provider
func (p *Pool) Acquire(provider models.Provider) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.entries[provider]
	n := len(entries)
	now := p.now()
	start := p.next[provider]

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if entries[idx].available(now) {
			p.next[provider] = (idx + 1) % n
			return entries[idx].cred, nil
		}
	}

	return Credential{}, fmt.Errorf("%s: %w", provider, ErrNoHealthyCredential)
}

// ReportRateLimited puts the credential into cool-down
func (p *Pool) ReportRateLimited(cred Credential) {
	p.mu.Lock()
	e := p.find(cred)
	var until time.Time
	if e != nil {
		until = p.now().Add(p.coolDown)
		e.coolingUntil = until
	}
	p.mu.Unlock()

	if e == nil {
		return
	}
	p.logger.WithFields(logrus.Fields{
		"credential": cred.id,
		"until":      until,
	}).Warn("Credential cooling down after upstream rate limit")
}

// ReportSuccess records a successful use. Success carries no state, so it
// never changes a credential.
func (p *Pool) ReportSuccess(cred Credential) {}

// Snapshot reports available and cooling counts per provider
func (p *Pool) Snapshot() map[models.Provider]Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make(map[models.Provider]Status, len(p.entries))
	for provider, entries := range p.entries {
		var s Status
		for _, e := range entries {
			if e.available(now) {
				s.Available++
			} else {
				s.CoolingDown++
			}
		}
		out[provider] = s
	}
	return out
}

func (p *Pool) find(cred Credential) *entry {
	for _, e := range p.entries[cred.provider] {
		if e.cred.id == cred.id {
			return e
		}
	}
	return nil
}
