// Package cubic implements the round-trip estimator and CUBIC congestion
// window used by the send queue's pacer.
package cubic

import "time"

// RFC 6298 constants.
const (
	alpha  = 0.125
	beta   = 0.25
	kFctr  = 4
	MinRTO = 1 * time.Second
	MaxRTO = 10 * time.Second
)

// RTOEstimator tracks smoothed RTT, RTT variance, and the derived
// retransmission timeout per RFC 6298.
type RTOEstimator struct {
	hasSample bool
	srtt      time.Duration
	rttvar    time.Duration
	rto       time.Duration
}

// NewRTOEstimator returns an estimator seeded with the initial RTO before
// any sample has been observed.
func NewRTOEstimator() *RTOEstimator {
	return &RTOEstimator{rto: MaxRTO}
}

// Sample folds one RTT measurement into the estimate.
func (e *RTOEstimator) Sample(rtt time.Duration) {
	if rtt < 0 {
		return
	}
	if !e.hasSample {
		e.srtt = rtt
		e.rttvar = rtt / 2
		e.hasSample = true
	} else {
		diff := e.srtt - rtt
		if diff < 0 {
			diff = -diff
		}
		e.rttvar = time.Duration((1-beta)*float64(e.rttvar) + beta*float64(diff))
		e.srtt = time.Duration((1-alpha)*float64(e.srtt) + alpha*float64(rtt))
	}
	e.rto = e.srtt + kFctr*e.rttvar
	e.clamp()
}

// Backoff doubles the RTO after a retransmission timeout, per Karn's
// algorithm, clamped to MaxRTO.
func (e *RTOEstimator) Backoff() {
	e.rto *= 2
	e.clamp()
}

func (e *RTOEstimator) clamp() {
	if e.rto < MinRTO {
		e.rto = MinRTO
	}
	if e.rto > MaxRTO {
		e.rto = MaxRTO
	}
}

// RTO returns the current retransmission timeout.
func (e *RTOEstimator) RTO() time.Duration { return e.rto }

// SRTT returns the current smoothed round-trip time (zero until the first
// sample).
func (e *RTOEstimator) SRTT() time.Duration { return e.srtt }
