package sim

import (
	"testing"

	"github.com/pthm-cable/meadow/systems"
)

func TestRandomPolicy(t *testing.T) {
	p := NewRandomPolicy(1)

	tests := []struct {
		name string
		obs  Observation
		want systems.Action
	}{
		{"flee sink", Observation{Sink: true, HasSource: true}, systems.ActionForward},
		{"feed on source", Observation{HasSource: true, EnergyRatio: 0.5}, systems.ActionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Act(tt.obs); got != tt.want {
				t.Errorf("Act = %v, want %v", got, tt.want)
			}
		})
	}

	seen := make(map[systems.Action]bool)
	for i := 0; i < 500; i++ {
		a := p.Act(Observation{EnergyRatio: 1})
		if a < 0 || a >= systems.NumActions {
			t.Fatalf("action %d out of range", a)
		}
		seen[a] = true
	}
	if !seen[systems.ActionForward] || !seen[systems.ActionRotateLeft] {
		t.Errorf("random policy should explore, saw %v", seen)
	}
}

func TestRandomPolicyDeterministic(t *testing.T) {
	a, b := NewRandomPolicy(9), NewRandomPolicy(9)
	for i := 0; i < 50; i++ {
		if a.Act(Observation{}) != b.Act(Observation{}) {
			t.Fatalf("policies with the same seed diverged at %d", i)
		}
	}
}
