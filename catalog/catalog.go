package catalog

import (
	"time"
)

// Product is a canonical catalog entry, created on first sighting of any
// of its variants. Identity fields never change after creation; only the
// display fields (name, category) may be corrected by a later upsert.
type Product struct {
	ID           string
	CanonicalURL string
	Name         string
	Brand        string
	Category     string
}

// Variant is one purchasable SKU under a product (size, color, pack).
type Variant struct {
	ID           string
	ProductID    string
	Attrs        map[string]string
	CanonicalURL string
}

// Observation is one immutable price fact. Nil price fields mean the page
// did not expose that value; partial records are persisted as-is.
type Observation struct {
	VariantID       string
	ObservedAt      time.Time
	Current         *Money
	List            *Money
	Omnibus         *Money // lowest price in the preceding 30 days
	Promotion       bool
	VoucherRequired bool
	Anomaly         bool
	SessionID       string
}

// NewObservation stamps the observation time and flags the record as
// anomalous when the 30-day minimum exceeds the current price. The record
// is kept either way; the flag surfaces the data-quality issue downstream.
func NewObservation(variantID, sessionID string, current, list, omnibus *Money, promotion, voucher bool) *Observation {
	o := &Observation{
		VariantID:       variantID,
		ObservedAt:      time.Now(),
		Current:         current,
		List:            list,
		Omnibus:         omnibus,
		Promotion:       promotion,
		VoucherRequired: voucher,
		SessionID:       sessionID,
	}

	if current != nil && omnibus != nil && *omnibus > *current {
		o.Anomaly = true
	}

	return o
}

// Day is the calendar-day part of the natural observation key.
func (o *Observation) Day() string {
	return o.ObservedAt.Format("2006-01-02")
}

// SamePrices reports whether two observations carry identical price fields,
// which makes a same-day re-persist a no-op.
func (o *Observation) SamePrices(other *Observation) bool {
	return moneyEq(o.Current, other.Current) &&
		moneyEq(o.List, other.List) &&
		moneyEq(o.Omnibus, other.Omnibus) &&
		o.Promotion == other.Promotion &&
		o.VoucherRequired == other.VoucherRequired
}

func moneyEq(a, b *Money) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// FetchSession is one rotation epoch: everything fetched between two
// identity rotations shares a session and an impersonation profile.
type FetchSession struct {
	ID            string
	IdentityLabel string
	RequestCount  int
	StartedAt     time.Time
	EndedAt       *time.Time
}
