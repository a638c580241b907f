package fare

import "testing"

func TestEstimate(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	tests := []struct {
		name     string
		distance float64
		want     float64
	}{
		{name: "zero distance is base fare", distance: 0, want: 2.50},
		// 2.50 + 0.50 + 2 min * 0.20
		{name: "one km", distance: 1, want: 3.40},
		// 2.50 + 5.00 + 20 min * 0.20
		{name: "ten km", distance: 10, want: 11.50},
		// 2.50 + 3.1 + 12.4 min * 0.20 = 8.08
		{name: "fractional", distance: 6.2, want: 8.08},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Estimate(tt.distance); got != tt.want {
				t.Errorf("Estimate(%v) = %v, want %v", tt.distance, got, tt.want)
			}
		})
	}
}

func TestEstimateMonotonic(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	prev := e.Estimate(0)
	for d := 0.5; d <= 200; d += 0.5 {
		got := e.Estimate(d)
		if got <= prev {
			t.Fatalf("fare not increasing at %v km: %v <= %v", d, got, prev)
		}
		prev = got
	}
}

func TestTripSpeedIsIndependent(t *testing.T) {
	slow := NewEstimator(Config{BaseFare: 0, DistanceRate: 0, TimeRate: 1, AssumedSpeedKmh: 15})
	if got := slow.Minutes(15); got != 60 {
		t.Fatalf("expected 60 minutes for 15 km at 15 km/h, got %v", got)
	}
	fallback := NewEstimator(Config{BaseFare: 2.5})
	if got := fallback.Minutes(30); got != 60 {
		t.Fatalf("expected default 30 km/h when unset, got %v minutes", got)
	}
}

func TestRound2HalfAwayFromZero(t *testing.T) {
	if got := Round2(2.125); got != 2.13 {
		t.Fatalf("Round2(2.125) = %v, want 2.13", got)
	}
	if got := Round2(-2.125); got != -2.13 {
		t.Fatalf("Round2(-2.125) = %v, want -2.13", got)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := DefaultConfig()
	bad.TimeRate = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for negative time rate")
	}
	bad = DefaultConfig()
	bad.AssumedSpeedKmh = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for zero speed")
	}
}
