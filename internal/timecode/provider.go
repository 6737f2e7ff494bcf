package timecode

import (
	"time"

	"github.com/juju/clock"
)

// Provider supplies the current scene time for time-synchronized
// resolution.
type Provider interface {
	Now() QualifiedFrameTime
}

// SystemProvider derives timecode from the local time of day at a fixed
// rate. It wraps at midnight, so its rollover modulus is DayModulus(rate).
type SystemProvider struct {
	clock clock.Clock
	rate  FrameRate
}

// NewSystemProvider returns a provider reading clk at rate.
func NewSystemProvider(clk clock.Clock, rate FrameRate) *SystemProvider {
	if clk == nil {
		clk = clock.WallClock
	}
	return &SystemProvider{clock: clk, rate: rate}
}

// Now returns the frame time since local midnight.
func (p *SystemProvider) Now() QualifiedFrameTime {
	now := p.clock.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return QualifiedFrameTime{
		Time: p.rate.AsFrameTime(now.Sub(midnight).Seconds()),
		Rate: p.rate,
	}
}

// Rate returns the provider frame rate.
func (p *SystemProvider) Rate() FrameRate { return p.rate }

// RolloverModulus is the wrap period of the provider's timecode.
func (p *SystemProvider) RolloverModulus() FrameTime { return DayModulus(p.rate) }
