package guard

import "math"

// Probability returns the chance of replying after n consecutive
// agent-originated messages in a conversation.
//
// The curve decays geometrically from BaseChance and never drops below
// MinChance, except at HardLimit where it is forced to 0 so a chain of
// agents always terminates.
func Probability(n int, f Falloff) float64 {
	if n < 0 {
		n = 0
	}
	if f.HardLimit > 0 && n >= f.HardLimit {
		return 0
	}
	p := f.BaseChance * math.Pow(1-f.DecayRate, float64(n))
	if p < f.MinChance {
		p = f.MinChance
	}
	return p
}
