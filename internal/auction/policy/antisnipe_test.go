package policy

import (
	"testing"
	"time"

	"ms-bidding/internal/models"
)

func TestEvaluateExtendsLateBid(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := AntiSnipe{Window: 2 * time.Minute, Extension: 2 * time.Minute, MaxExtensions: 3}

	tests := []struct {
		name       string
		placedAt   time.Time
		extensions int
		wantExtend bool
		wantEnd    time.Time
	}{
		{"bid well before the window", end.Add(-10 * time.Minute), 0, false, time.Time{}},
		// At the window start the push lands exactly on the old end time,
		// so there is nothing to extend.
		{"bid exactly at window start", end.Add(-2 * time.Minute), 0, false, time.Time{}},
		// The new end is delta past the bid, not past the old end.
		{"bid ten seconds before close", end.Add(-10 * time.Second), 0, true, end.Add(110 * time.Second)},
		{"bid one second before close", end.Add(-time.Second), 0, true, end.Add(119 * time.Second)},
		{"bid inside window but cap reached", end.Add(-10 * time.Second), 3, false, time.Time{}},
		{"bid inside window one below cap", end.Add(-10 * time.Second), 2, true, end.Add(110 * time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auction := &models.Auction{EndTime: end, ExtensionCount: tt.extensions}
			decision := p.Evaluate(auction, tt.placedAt)
			if decision.Extend != tt.wantExtend {
				t.Errorf("Evaluate() extend = %v, want %v", decision.Extend, tt.wantExtend)
			}
			if tt.wantExtend && !decision.NewEndTime.Equal(tt.wantEnd) {
				t.Errorf("Evaluate() new end = %v, want %v", decision.NewEndTime, tt.wantEnd)
			}
		})
	}
}

func TestEvaluateDisabledPolicy(t *testing.T) {
	end := time.Now().Add(time.Minute)
	auction := &models.Auction{EndTime: end}

	p := AntiSnipe{Window: 0, Extension: 2 * time.Minute, MaxExtensions: 3}
	if p.Evaluate(auction, end.Add(-time.Second)).Extend {
		t.Error("Evaluate() extended with zero window")
	}

	p = AntiSnipe{Window: 2 * time.Minute, Extension: 0, MaxExtensions: 3}
	if p.Evaluate(auction, end.Add(-time.Second)).Extend {
		t.Error("Evaluate() extended with zero extension")
	}
}

func TestInClosingWindow(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := AntiSnipe{Window: 2 * time.Minute, Extension: 2 * time.Minute, MaxExtensions: 3}
	auction := &models.Auction{EndTime: end}

	if p.InClosingWindow(auction, end.Add(-10*time.Minute)) {
		t.Error("InClosingWindow() true well before the window")
	}
	if !p.InClosingWindow(auction, end.Add(-2*time.Minute)) {
		t.Error("InClosingWindow() false at window start")
	}
	if !p.InClosingWindow(auction, end.Add(-time.Second)) {
		t.Error("InClosingWindow() false just before end")
	}
	if p.InClosingWindow(auction, end) {
		t.Error("InClosingWindow() true at end time")
	}
}
