package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewObservationAnomaly(t *testing.T) {
	tests := []struct {
		name    string
		current *Money
		omnibus *Money
		want    bool
	}{
		{name: "minimum below current", current: MoneyPtr(12999), omnibus: MoneyPtr(10999), want: false},
		{name: "minimum equals current", current: MoneyPtr(12999), omnibus: MoneyPtr(12999), want: false},
		{name: "minimum above current", current: MoneyPtr(12999), omnibus: MoneyPtr(19999), want: true},
		{name: "missing omnibus", current: MoneyPtr(12999), omnibus: nil, want: false},
		{name: "missing current", current: nil, omnibus: MoneyPtr(10999), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewObservation("v1", "s1", tt.current, nil, tt.omnibus, false, false)
			assert.Equal(t, tt.want, o.Anomaly)
			// anomalous or not, the record itself is kept
			assert.Equal(t, "v1", o.VariantID)
		})
	}
}

func TestSamePrices(t *testing.T) {
	a := NewObservation("v1", "s1", MoneyPtr(12999), MoneyPtr(15999), MoneyPtr(10999), true, false)
	b := NewObservation("v1", "s2", MoneyPtr(12999), MoneyPtr(15999), MoneyPtr(10999), true, false)
	assert.True(t, a.SamePrices(b))

	c := NewObservation("v1", "s2", MoneyPtr(11999), MoneyPtr(15999), MoneyPtr(10999), true, false)
	assert.False(t, a.SamePrices(c))

	d := NewObservation("v1", "s2", MoneyPtr(12999), MoneyPtr(15999), nil, true, false)
	assert.False(t, a.SamePrices(d))
}

func TestObservationDay(t *testing.T) {
	o := NewObservation("v1", "s1", MoneyPtr(100), nil, nil, false, false)
	assert.Equal(t, o.ObservedAt.Format("2006-01-02"), o.Day())
}
