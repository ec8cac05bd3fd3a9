package ratelimit

import (
	"time"

	"github.com/adhocore/gronx"
)

// FlushScheduler computes the next "always"-decision persistence flush time
// from a cron expression, letting deployments tune how often saved
// permission decisions are written to the decision store without coupling
// that cadence to the request rate itself.
type FlushScheduler struct {
	expr gronx.Gronx
}

// NewFlushScheduler constructs a FlushScheduler.
func NewFlushScheduler() *FlushScheduler {
	return &FlushScheduler{expr: gronx.New()}
}

// NextFlush returns the next time after `after` at which cronExpr fires, or
// ok=false if cronExpr is malformed.
func (f *FlushScheduler) NextFlush(cronExpr string, after time.Time) (next time.Time, ok bool) {
	if !f.expr.IsValid(cronExpr) {
		return time.Time{}, false
	}
	next, err := gronx.NextTickAfter(cronExpr, after, false)
	if err != nil {
		return time.Time{}, false
	}
	return next, true
}
