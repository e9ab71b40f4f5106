package safety

import (
	"testing"

	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

func TestRiskMachineOneWayEscalation(t *testing.T) {
	m := NewRiskMachine()
	if m.Current() != wire.RiskNormal {
		t.Fatalf("expected NORMAL initial state, got %s", m.Current())
	}
	if !m.Escalate(wire.RiskDefensive) {
		t.Fatal("expected escalation to DEFENSIVE to succeed")
	}
	if m.Escalate(wire.RiskCautious) {
		t.Fatal("escalation to a lower rank must be rejected")
	}
	if m.Current() != wire.RiskDefensive {
		t.Fatalf("state should remain DEFENSIVE, got %s", m.Current())
	}
	if !m.Escalate(wire.RiskEmergency) {
		t.Fatal("expected escalation to EMERGENCY to succeed")
	}
	m.Reset()
	if m.Current() != wire.RiskNormal {
		t.Fatalf("expected reset to NORMAL, got %s", m.Current())
	}
}

func TestDrawdownTrigger(t *testing.T) {
	cases := []struct {
		ratio float64
		want  wire.RiskState
		ok    bool
	}{
		{0.2, "", false},
		{0.5, wire.RiskCautious, true},
		{0.8, wire.RiskDefensive, true},
		{0.995, wire.RiskEmergency, true},
	}
	for _, c := range cases {
		got, ok := DrawdownTrigger(c.ratio)
		if ok != c.ok || got != c.want {
			t.Errorf("DrawdownTrigger(%v) = (%v, %v), want (%v, %v)", c.ratio, got, ok, c.want, c.ok)
		}
	}
}
