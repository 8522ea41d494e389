// Frame statistics for the live pipeline
package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// FrameStats counts frame outcomes. All methods are safe for concurrent use
// and a nil receiver records nothing.
type FrameStats struct {
	delivered  atomic.Uint64
	presented  atomic.Uint64
	blank      atomic.Uint64
	dropped    atomic.Uint64
	late       atomic.Uint64
	missing    atomic.Uint64
	totalNanos atomic.Int64
	lastNanos  atomic.Int64
}

// Snapshot is a point-in-time copy of FrameStats
type Snapshot struct {
	Delivered   uint64
	Presented   uint64
	Blank       uint64
	Dropped     uint64
	Late        uint64
	Missing     uint64
	LastLatency time.Duration
	MeanLatency time.Duration
}

func NewFrameStats() *FrameStats {
	return &FrameStats{}
}

// Delivered records a frame handed to the filter pipeline
func (s *FrameStats) Delivered() {
	if s != nil {
		s.delivered.Add(1)
	}
}

// Presented records a processed frame reaching the surface
func (s *FrameStats) Presented(latency time.Duration) {
	if s == nil {
		return
	}
	s.presented.Add(1)
	s.totalNanos.Add(int64(latency))
	s.lastNanos.Store(int64(latency))
}

// Blank records a neutral frame shown during a camera switch
func (s *FrameStats) Blank() {
	if s != nil {
		s.blank.Add(1)
	}
}

// Dropped records a frame abandoned by a failing stage
func (s *FrameStats) Dropped() {
	if s != nil {
		s.dropped.Add(1)
	}
}

// Late records a frame discarded because delivery was busy
func (s *FrameStats) Late() {
	if s != nil {
		s.late.Add(1)
	}
}

// Missing records a read that returned no frame buffer
func (s *FrameStats) Missing() {
	if s != nil {
		s.missing.Add(1)
	}
}

func (s *FrameStats) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		Delivered:   s.delivered.Load(),
		Presented:   s.presented.Load(),
		Blank:       s.blank.Load(),
		Dropped:     s.dropped.Load(),
		Late:        s.late.Load(),
		Missing:     s.missing.Load(),
		LastLatency: time.Duration(s.lastNanos.Load()),
	}
	if snap.Presented > 0 {
		snap.MeanLatency = time.Duration(s.totalNanos.Load() / int64(snap.Presented))
	}
	return snap
}

// Report logs a snapshot at debug level every interval until ctx ends
func (s *FrameStats) Report(ctx context.Context, interval time.Duration, logger *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.Snapshot()
			logger.WithFields(logrus.Fields{
				"delivered":       snap.Delivered,
				"presented":       snap.Presented,
				"blank":           snap.Blank,
				"dropped":         snap.Dropped,
				"late":            snap.Late,
				"missing":         snap.Missing,
				"last_latency_ms": snap.LastLatency.Milliseconds(),
				"mean_latency_ms": snap.MeanLatency.Milliseconds(),
			}).Debug("Frame statistics")
		}
	}
}
