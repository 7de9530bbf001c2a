// Package congestion implements the NewReno-style congestion controller
// and RTT estimator that gate packet pacing. Grounded directly on
// spec.md §4.5's fully-specified constants and formulas; no file in the
// example pack implements NewReno itself, so this is written against
// the spec's own arithmetic rather than ported from a library.
package congestion

import "math"

const (
	// InitialWindow is the starting congestion window in bytes.
	InitialWindow = 100_000
	// MinWindow floors cwnd after a congestion event.
	MinWindow = 10_000
	// ApplicationLimitedFraction: growth only counts while bytes in
	// flight stay below this fraction of cwnd.
	ApplicationLimitedFraction = 0.8
	// LinearGrowthConstant scales the congestion-avoidance increment.
	LinearGrowthConstant = 1500
	// FastConvergenceFactor shrinks cwnd further when repeatedly
	// congested before recovering to w_max.
	FastConvergenceFactor = 0.6
	// StandardBackoffFactor is the normal congestion-event multiplier.
	StandardBackoffFactor = 0.75
)

// Controller tracks one connection's send window: slow start,
// congestion avoidance, and loss-triggered backoff.
type Controller struct {
	Cwnd            float64
	Ssthresh        float64
	WMax            float64
	CongestionStart int64 // UnixNano of the last congestion event
	K               float64

	BytesInFlight uint64
}

// NewController returns a Controller in its initial slow-start state.
func NewController() *Controller {
	return &Controller{
		Cwnd:     InitialWindow,
		Ssthresh: math.Inf(1),
	}
}

// applicationLimited reports whether bytes in flight have reached
// ApplicationLimitedFraction of cwnd; while they have, an ack does not
// count toward window growth.
func (c *Controller) applicationLimited() bool {
	return float64(c.BytesInFlight) >= ApplicationLimitedFraction*c.Cwnd
}

// OnAck folds an acknowledgement of n bytes, sent at sentTime (UnixNano),
// into the window. Growth only applies if sentTime is after the last
// congestion event and the connection isn't application-limited.
func (c *Controller) OnAck(n uint64, sentTime int64) {
	if sentTime > c.CongestionStart && !c.applicationLimited() {
		if c.Cwnd < c.Ssthresh {
			c.Cwnd += float64(n) // slow start
		} else {
			c.Cwnd += LinearGrowthConstant * float64(n) / c.Cwnd // congestion avoidance
		}
	}
}

// OnCongestionEvent folds a detected loss whose sentTime is after the
// last congestion event into the window, applying fast convergence if
// we haven't yet recovered to w_max.
func (c *Controller) OnCongestionEvent(sentTime, now int64) {
	if sentTime <= c.CongestionStart {
		return
	}
	if c.Cwnd < c.WMax {
		c.WMax = c.Cwnd
		c.Cwnd *= FastConvergenceFactor
	} else {
		c.WMax = c.Cwnd
		c.Cwnd *= StandardBackoffFactor
	}
	if c.Cwnd < MinWindow {
		c.Cwnd = MinWindow
	}
	c.Ssthresh = c.Cwnd
	c.CongestionStart = now
	c.K = math.Cbrt(c.WMax/16) * 1000
}

// CanSend reports whether sending an additional fragLen bytes would
// keep bytes-in-flight within the current window.
func (c *Controller) CanSend(fragLen uint64) bool {
	return float64(c.BytesInFlight+fragLen) <= c.Cwnd
}

// RTTEstimator tracks an exponentially-smoothed round-trip time.
type RTTEstimator struct {
	RTT         float64 // seconds
	initialized bool
}

// Sample folds a new RTT observation (in seconds) into the estimate.
func (r *RTTEstimator) Sample(sample float64) {
	if !r.initialized {
		r.RTT = sample
		r.initialized = true
		return
	}
	r.RTT = 0.875*r.RTT + 0.125*sample
}
