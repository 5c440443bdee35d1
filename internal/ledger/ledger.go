package ledger

import (
	"context"
	"log"

	"snackticket/internal/store"
)

const keyPrefix = "ticketRedeemDate_"

// Ledger records the last redemption date per student in the key-value
// store. One entry per student; absence or a stale date both mean "not
// redeemed today".
type Ledger struct {
	kv store.KV
}

// New creates a ledger over the given store.
func New(kv store.KV) *Ledger {
	return &Ledger{kv: kv}
}

// HasRedeemedToday reports whether the stored date for studentID equals
// today (school-local YYYY-MM-DD). A read failure is logged and treated as
// not redeemed: an unreadable marker must never lock a student out.
func (l *Ledger) HasRedeemedToday(ctx context.Context, studentID, today string) bool {
	stored, ok, err := l.kv.Get(ctx, keyPrefix+studentID)
	if err != nil {
		log.Printf("ledger: read for %s failed, treating as not redeemed: %v", studentID, err)
		return false
	}
	return ok && stored == today
}

// RecordRedemption overwrites the stored date for studentID with today.
// Unlike reads, a failed write is an error the caller must surface: the
// ticket must not be reported as torn unless the marker is durable.
// Recording the same date twice is a no-op in effect.
func (l *Ledger) RecordRedemption(ctx context.Context, studentID, today string) error {
	return l.kv.Set(ctx, keyPrefix+studentID, today)
}
