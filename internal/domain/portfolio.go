package domain

import "github.com/atlas-desktop/volbalance/pkg/types"

// Portfolio owns many Positions and gates whether live evaluation fires.
type Portfolio struct {
	ID                 string
	TenantID           string
	Name               string
	TradingState       types.TradingState
	TradingHoursPolicy types.TradingHoursPolicy
}

// NewPortfolio constructs a portfolio not yet configured for trading.
func NewPortfolio(id, tenantID, name string) *Portfolio {
	return &Portfolio{
		ID:                 id,
		TenantID:           tenantID,
		Name:               name,
		TradingState:       types.TradingNotConfigured,
		TradingHoursPolicy: types.HoursOpenOnly,
	}
}

// CanEvaluate reports whether live evaluation is permitted right now.
func (p *Portfolio) CanEvaluate() bool {
	return p.TradingState == types.TradingRunning
}

// Start transitions the portfolio into RUNNING.
func (p *Portfolio) Start() { p.TradingState = types.TradingRunning }

// Pause transitions the portfolio into PAUSED; scheduled evaluations stop
// until Resume is called.
func (p *Portfolio) Pause() { p.TradingState = types.TradingPaused }

// Resume transitions a PAUSED portfolio back to RUNNING. No-op otherwise.
func (p *Portfolio) Resume() {
	if p.TradingState == types.TradingPaused {
		p.TradingState = types.TradingRunning
	}
}

// Stop transitions the portfolio back to NOT_CONFIGURED.
func (p *Portfolio) Stop() { p.TradingState = types.TradingNotConfigured }
