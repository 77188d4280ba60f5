package projector

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
)

func TestLosesLWWArrivalOrderDecides(t *testing.T) {
	cases := []struct {
		name            string
		recordedArrival int64
		recordedDevice  string
		arrival         int64
		device          string
		loses           bool
	}{
		{"later arrival wins", 5, "aaa", 7, "zzz", false},
		{"earlier arrival loses", 7, "aaa", 5, "zzz", true},
		{"equal arrival higher device loses", 5, "bbb", 5, "aaa", true},
		{"equal arrival lower device wins", 5, "aaa", 5, "bbb", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := losesLWW(tc.recordedArrival, tc.recordedDevice, tc.arrival, tc.device); got != tc.loses {
				t.Fatalf("losesLWW(%d,%q,%d,%q) = %v, want %v",
					tc.recordedArrival, tc.recordedDevice, tc.arrival, tc.device, got, tc.loses)
			}
		})
	}
}

func TestSecondaryAmountUsesBankersRounding(t *testing.T) {
	cases := []struct {
		usd  string
		rate string
		want string
	}{
		{"10", "36.50", "365"},
		{"0.01", "36.505", "0.37"},
		{"1.25", "36.502", "45.63"},
	}
	for _, tc := range cases {
		got := secondaryAmount(decimal.RequireFromString(tc.usd), decimal.RequireFromString(tc.rate))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("secondaryAmount(%s, %s) = %s, want %s", tc.usd, tc.rate, got, tc.want)
		}
	}
}

func TestRejectionCarriesReason(t *testing.T) {
	err := reject(events.ReasonOverpayment, "payment %s exceeds remaining %s", "10", "4")

	rejection := AsRejection(err)
	if rejection == nil {
		t.Fatal("expected a rejection")
	}
	if rejection.Reason != events.ReasonOverpayment {
		t.Fatalf("expected overpayment, got %s", rejection.Reason)
	}

	if AsRejection(errors.New("plain failure")) != nil {
		t.Fatal("plain errors are not rejections")
	}
}
