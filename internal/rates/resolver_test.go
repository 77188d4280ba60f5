package rates

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/yoeldevsoft25/lacaja-sync/pkg/errors"
)

func TestSnapshotWithoutRateIsStale(t *testing.T) {
	resolver := NewResolver(30 * time.Minute)

	_, err := resolver.Snapshot()
	if !pkgerrors.HasCode(err, pkgerrors.CodeStaleRate) {
		t.Fatalf("expected stale rate error, got %v", err)
	}
}

func TestSnapshotReturnsFrozenRate(t *testing.T) {
	resolver := NewResolver(30 * time.Minute)
	fetchedAt := time.Now().Add(-time.Minute)
	if err := resolver.Update(decimal.RequireFromString("36.50"), fetchedAt); err != nil {
		t.Fatalf("update: %v", err)
	}

	snapshot, err := resolver.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snapshot.Rate.Equal(decimal.RequireFromString("36.50")) {
		t.Fatalf("expected rate 36.50, got %s", snapshot.Rate)
	}
	if !snapshot.RateFetchedAt.Equal(fetchedAt) {
		t.Fatalf("fetch time must be preserved")
	}
}

func TestSnapshotExpiresAfterMaxAge(t *testing.T) {
	resolver := NewResolver(30 * time.Minute)
	now := time.Now()
	resolver.now = func() time.Time { return now }

	if err := resolver.Update(decimal.RequireFromString("36.50"), now.Add(-31*time.Minute)); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err := resolver.Snapshot()
	if !pkgerrors.HasCode(err, pkgerrors.CodeStaleRate) {
		t.Fatalf("expected stale rate error, got %v", err)
	}
}

func TestUpdateRejectsNonPositiveRate(t *testing.T) {
	resolver := NewResolver(30 * time.Minute)
	err := resolver.Update(decimal.Zero, time.Now())
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
