package guard

import (
	"math"
	"testing"
)

func TestProbabilityCurve(t *testing.T) {
	t.Parallel()
	f := Falloff{BaseChance: 0.8, DecayRate: 0.15, MinChance: 0.05, HardLimit: 10}

	tests := []struct {
		name string
		n    int
		want float64
	}{
		{name: "first agent message", n: 0, want: 0.8},
		{name: "second", n: 1, want: 0.8 * 0.85},
		{name: "third", n: 2, want: 0.8 * 0.85 * 0.85},
		{name: "negative clamps to zero", n: -3, want: 0.8},
		{name: "at hard limit", n: 10, want: 0},
		{name: "past hard limit", n: 11, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Probability(tt.n, f)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Fatalf("Probability(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestProbabilityFloor(t *testing.T) {
	t.Parallel()
	f := Falloff{BaseChance: 0.8, DecayRate: 0.5, MinChance: 0.05, HardLimit: 100}

	// 0.8 * 0.5^10 is far below the floor but well before the hard limit.
	if got := Probability(10, f); got != 0.05 {
		t.Fatalf("Probability(10) = %v, want floor 0.05", got)
	}
}

func TestProbabilityNoHardLimit(t *testing.T) {
	t.Parallel()
	f := Falloff{BaseChance: 0.8, DecayRate: 0.15, MinChance: 0.05}
	if got := Probability(1000, f); got != 0.05 {
		t.Fatalf("Probability without hard limit = %v, want 0.05", got)
	}
}
