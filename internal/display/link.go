// Package display provides the display-refresh tick source and the
// GPU-backed presentation surface
package display

import (
	"sync"
	"time"
)

// Link delivers one callback per display refresh until stopped
type Link interface {
	Start(tick func(now time.Time)) (stop func())
}

// TickerLink approximates a display link with a fixed-rate ticker. Dispatch,
// when set, moves each tick onto the UI thread.
type TickerLink struct {
	Interval time.Duration
	Dispatch func(func())
}

func (l TickerLink) Start(tick func(now time.Time)) func() {
	ticker := time.NewTicker(l.Interval)
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				if l.Dispatch != nil {
					l.Dispatch(func() { tick(now) })
				} else {
					tick(now)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
