package chaos

import "testing"

func TestLatencyProfileClampBounds(t *testing.T) {
	p := LatencyProfile{MinMS: 10, MaxMS: 100}
	if got := p.clamp(5); got != 10 {
		t.Errorf("clamp(5) = %v, want 10", got)
	}
	if got := p.clamp(200); got != 100 {
		t.Errorf("clamp(200) = %v, want 100", got)
	}
	if got := p.clamp(50); got != 50 {
		t.Errorf("clamp(50) = %v, want 50", got)
	}
}

func TestLatencyProfileClampUnboundedAbove(t *testing.T) {
	p := LatencyProfile{MinMS: 0, MaxMS: 0}
	if got := p.clamp(99999); got != 99999 {
		t.Errorf("clamp with MaxMS=0 should be unbounded, got %v", got)
	}
}

func TestLatencyProfileResolveFallsBackToBase(t *testing.T) {
	p := &LatencyProfile{BaseMS: 10}
	resolved := p.resolve([]string{"unknown-tag"})
	if resolved != p {
		t.Errorf("expected fallback to base profile")
	}
}

func TestLatencyProfileResolveUsesOverride(t *testing.T) {
	override := &LatencyProfile{BaseMS: 500}
	p := &LatencyProfile{BaseMS: 10, TagOverrides: map[string]*LatencyProfile{"slow": override}}
	resolved := p.resolve([]string{"other", "slow"})
	if resolved != override {
		t.Errorf("expected override to be selected")
	}
}
