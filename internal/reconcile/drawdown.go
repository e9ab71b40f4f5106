package reconcile

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peycheff-com/titan-execution-core/internal/safety"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// DrawdownTracker measures the session's drawdown against the configured
// limit. Peak equity is the session high-water mark; drawdown is the
// fractional fall from the peak, and the trigger tiers at 50/75/99% of
// the limit map onto CAUTIOUS/DEFENSIVE/EMERGENCY (§4.5). A second limit,
// max_daily_loss_pct, is checked against the first equity observation of
// the current UTC day; crossing it goes straight to EMERGENCY. Decimal
// math throughout so the threshold comparisons are exact (§9).
type DrawdownTracker struct {
	mu           sync.Mutex
	limitPct     decimal.Decimal
	dailyLossPct decimal.Decimal
	peak         decimal.Decimal
	current      decimal.Decimal
	dayAnchor    decimal.Decimal
	day          string
	now          func() time.Time
}

// NewDrawdownTracker returns a tracker against the max_drawdown_pct limit
// (e.g. 0.20 for a 20% drawdown limit) and the max_daily_loss_pct limit.
// A zero limit disables the corresponding check.
func NewDrawdownTracker(limitPct, dailyLossPct decimal.Decimal) *DrawdownTracker {
	return &DrawdownTracker{limitPct: limitPct, dailyLossPct: dailyLossPct, now: time.Now}
}

// Update records the latest equity observation and returns the drawdown
// as a fraction of equity peak, plus the risk tier that fraction warrants
// ("" when no escalation is needed). The peak ratchets up only; a fresh
// session high resets drawdown to zero without resetting risk state,
// which stays one-way per §4.5.
func (d *DrawdownTracker) Update(equity decimal.Decimal) (drawdown decimal.Decimal, tier wire.RiskState, escalate bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.current = equity
	if equity.GreaterThan(d.peak) {
		d.peak = equity
	}
	today := d.now().UTC().Format("2006-01-02")
	if today != d.day {
		d.day = today
		d.dayAnchor = equity
	}
	if d.peak.IsZero() {
		return decimal.Zero, "", false
	}
	drawdown = d.peak.Sub(equity).Div(d.peak)
	if drawdown.IsNegative() {
		drawdown = decimal.Zero
	}
	if !d.dailyLossPct.IsZero() && !d.dayAnchor.IsZero() {
		dailyLoss := d.dayAnchor.Sub(equity).Div(d.dayAnchor)
		if dailyLoss.GreaterThanOrEqual(d.dailyLossPct) {
			return drawdown, wire.RiskEmergency, true
		}
	}
	if d.limitPct.IsZero() {
		return drawdown, "", false
	}
	ratioOfLimit, _ := drawdown.Div(d.limitPct).Float64()
	tier, escalate = safety.DrawdownTrigger(ratioOfLimit)
	return drawdown, tier, escalate
}

// Drawdown returns the last computed drawdown fraction of peak.
func (d *DrawdownTracker) Drawdown() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.peak.IsZero() {
		return decimal.Zero
	}
	dd := d.peak.Sub(d.current).Div(d.peak)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// Peak returns the session equity high-water mark.
func (d *DrawdownTracker) Peak() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}
