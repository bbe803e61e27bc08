package api

import (
	"sync/atomic"
	"time"
)

var lastEventTime atomic.Int64

// nextTimestamp returns unix nanoseconds, strictly increasing across calls
// so events published back to back keep their order.
func nextTimestamp() int64 {
	for {
		prev := lastEventTime.Load()
		now := max(time.Now().UnixNano(), prev+1)
		if lastEventTime.CompareAndSwap(prev, now) {
			return now
		}
	}
}
