package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObservationMatchesExactly(t *testing.T) {
	email := StringPtr("a@x.com")
	phone := StringPtr("111")

	tests := []struct {
		name  string
		obs   Observation
		rec   ContactRecord
		match bool
	}{
		{
			name:  "both fields equal",
			obs:   Observation{Email: email, Phone: phone},
			rec:   ContactRecord{Email: StringPtr("a@x.com"), Phone: StringPtr("111")},
			match: true,
		},
		{
			name:  "both absent on both sides",
			obs:   Observation{Email: email},
			rec:   ContactRecord{Email: StringPtr("a@x.com")},
			match: true,
		},
		{
			name:  "nil only matches absent, not a differing value",
			obs:   Observation{Email: email},
			rec:   ContactRecord{Email: StringPtr("a@x.com"), Phone: StringPtr("111")},
			match: false,
		},
		{
			name:  "case sensitive",
			obs:   Observation{Email: StringPtr("A@X.COM")},
			rec:   ContactRecord{Email: StringPtr("a@x.com")},
			match: false,
		},
		{
			name:  "phone differs",
			obs:   Observation{Email: email, Phone: StringPtr("222")},
			rec:   ContactRecord{Email: StringPtr("a@x.com"), Phone: StringPtr("111")},
			match: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, tt.obs.MatchesExactly(tt.rec))
		})
	}
}

func TestOlderThan(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	assert.True(t, ContactRecord{ID: 2, CreatedAt: t1}.OlderThan(ContactRecord{ID: 1, CreatedAt: t2}))
	assert.False(t, ContactRecord{ID: 1, CreatedAt: t2}.OlderThan(ContactRecord{ID: 2, CreatedAt: t1}))
	// equal timestamps fall back to lowest id
	assert.True(t, ContactRecord{ID: 1, CreatedAt: t1}.OlderThan(ContactRecord{ID: 2, CreatedAt: t1}))
}

func TestPrimaryID(t *testing.T) {
	linked := int64(7)
	assert.Equal(t, int64(3), ContactRecord{ID: 3, Precedence: PrecedencePrimary}.PrimaryID())
	assert.Equal(t, int64(7), ContactRecord{ID: 9, Precedence: PrecedenceSecondary, LinkedID: &linked}.PrimaryID())
}
