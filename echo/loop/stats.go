package loop

import "sync/atomic"

// Stats is a point-in-time snapshot of the loop counters
type Stats struct {
	ConnsAccepted int64 `json:"conns_accepted"`
	ConnsActive   int64 `json:"conns_active"`
	ConnsDropped  int64 `json:"conns_dropped"`
	BytesRead     int64 `json:"bytes_read"`
	BytesWritten  int64 `json:"bytes_written"`
	PartialWrites int64 `json:"partial_writes"`
}

// Counters holds the live loop counters. All fields are updated atomically
// so a single Counters value can be shared by multiple listener loops.
type Counters struct {
	ConnsAccepted atomic.Int64
	ConnsActive   atomic.Int64
	ConnsDropped  atomic.Int64
	BytesRead     atomic.Int64
	BytesWritten  atomic.Int64
	PartialWrites atomic.Int64
}

// Snapshot returns a consistent-enough copy of the counters for reporting
func (c *Counters) Snapshot() Stats {
	return Stats{
		ConnsAccepted: c.ConnsAccepted.Load(),
		ConnsActive:   c.ConnsActive.Load(),
		ConnsDropped:  c.ConnsDropped.Load(),
		BytesRead:     c.BytesRead.Load(),
		BytesWritten:  c.BytesWritten.Load(),
		PartialWrites: c.PartialWrites.Load(),
	}
}
