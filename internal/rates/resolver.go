package rates

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/yoeldevsoft25/lacaja-sync/pkg/errors"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
)

// Resolver freezes the exchange-rate context at event creation time. A
// monetary event must never be created with an unknown or stale rate:
// applying it later at a different rate would retroactively alter historical
// amounts.
type Resolver struct {
	mu        sync.RWMutex
	rate      decimal.Decimal
	fetchedAt time.Time
	maxAge    time.Duration
	now       func() time.Time
}

// NewResolver builds a resolver with the given maximum snapshot age.
func NewResolver(maxAge time.Duration) *Resolver {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &Resolver{maxAge: maxAge, now: time.Now}
}

// Update records a freshly fetched rate.
func (r *Resolver) Update(rate decimal.Decimal, fetchedAt time.Time) error {
	if rate.LessThanOrEqual(decimal.Zero) {
		return pkgerrors.New(pkgerrors.CodeValidation, "rate must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rate = rate
	r.fetchedAt = fetchedAt
	return nil
}

// Snapshot returns the most recently fetched rate, or a StaleRateError when
// no rate is cached or the cached rate exceeds the maximum age. The caller
// must refresh before creating the monetary event.
func (r *Resolver) Snapshot() (events.RateSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fetchedAt.IsZero() {
		return events.RateSnapshot{}, pkgerrors.New(pkgerrors.CodeStaleRate, "no exchange rate has been fetched")
	}
	age := r.now().Sub(r.fetchedAt)
	if age > r.maxAge {
		return events.RateSnapshot{}, pkgerrors.New(pkgerrors.CodeStaleRate, "cached exchange rate is too old").
			WithDetails(map[string]any{"age": age.String(), "max_age": r.maxAge.String()})
	}
	return events.RateSnapshot{Rate: r.rate, RateFetchedAt: r.fetchedAt}, nil
}
