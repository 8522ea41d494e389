package camera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"
)

func TestPropertyQueueKeepsLatestValue(t *testing.T) {
	var q propertyQueue
	q.put(gocv.VideoCaptureFrameWidth, 640)
	q.put(gocv.VideoCaptureZoom, 100)
	q.put(gocv.VideoCaptureFrameWidth, 1280)

	assert.Equal(t, []propertyWrite{
		{prop: gocv.VideoCaptureFrameWidth, value: 1280},
		{prop: gocv.VideoCaptureZoom, value: 100},
	}, q.drain())
	assert.Equal(t, 0, q.len())
	assert.Empty(t, q.drain())
}

func TestVideoDeviceConfiguresWhileReadInFlight(t *testing.T) {
	d := &VideoDevice{id: "video9", maxZoom: 4, zoomUnit: 100, zoom: 1}

	// a frame read holds the capture handle
	d.ioMu.Lock()
	defer d.ioMu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, d.LockForConfiguration())
		d.SetZoomFactor(9)
		d.SetFocusMode(FocusContinuous)
		d.UnlockForConfiguration()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("configuration waited for the read")
	}

	assert.Equal(t, 4.0, d.ZoomFactor())
	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, []propertyWrite{
		{prop: gocv.VideoCaptureZoom, value: 400},
		{prop: gocv.VideoCaptureAutoFocus, value: 1},
	}, d.pending.writes, "writes wait for the next read")
}
