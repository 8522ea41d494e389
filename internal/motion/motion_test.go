package motion

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAxes(t *testing.T, dir string, x, y, z string) {
	t.Helper()
	for name, v := range map[string]string{"x": x, "y": y, "z": z} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "in_accel_"+name+"_raw"), []byte(v+"\n"), 0o644))
	}
}

func fakeIIO(t *testing.T) (root, dir string) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "iio:device0"), 0o755))
	dir = filepath.Join(root, "iio:device1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in_accel_scale"), []byte("9.80665\n"), 0o644))
	writeAxes(t, dir, "0", "0", "1")
	return root, dir
}

func TestNorm(t *testing.T) {
	assert.Equal(t, 5.0, Vector{X: 3, Y: 4}.Norm())
	assert.Equal(t, 0.0, Vector{}.Norm())
}

func TestOpenIIOFindsAccelerometer(t *testing.T) {
	root, dir := fakeIIO(t)
	s, err := OpenIIO(root)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Dir())
}

func TestOpenIIOWithoutDevices(t *testing.T) {
	_, err := OpenIIO(t.TempDir())
	assert.ErrorIs(t, err, ErrNoAccelerometer)

	_, err = OpenIIO(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNoAccelerometer)
}

func TestIIORemovesGravity(t *testing.T) {
	root, dir := fakeIIO(t)
	s, err := OpenIIO(root)
	require.NoError(t, err)

	v, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, Vector{}, v, "first sample primes gravity")

	v, err = s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 0, v.Norm(), 1e-9, "resting device reports no motion")

	writeAxes(t, dir, "1", "0", "1")
	v, err = s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 0.8, v.X, 1e-9)
	assert.InDelta(t, 0, v.Z, 1e-9)
}

func TestIIOReadError(t *testing.T) {
	root, dir := fakeIIO(t)
	s, err := OpenIIO(root)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "in_accel_y_raw")))
	_, err = s.Sample()
	assert.Error(t, err)
}

func TestDetectFallsBackToNop(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := Detect(t.TempDir(), logger)
	assert.IsType(t, Nop{}, s)
	assert.Equal(t, "Motion sensing disabled", hook.LastEntry().Message)
}

type countingSensor struct {
	mu sync.Mutex
	n  int
}

func (c *countingSensor) Sample() (Vector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return Vector{X: float64(c.n)}, nil
}

func TestRunStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Vector, 16)
	done := make(chan struct{})
	go func() {
		Run(ctx, &countingSensor{}, time.Millisecond, func(v Vector, _ time.Time) {
			select {
			case got <- v:
			default:
			}
		}, logger.WithField("component", "motion"))
		close(done)
	}()

	select {
	case v := <-got:
		assert.Equal(t, 1.0, v.X)
	case <-time.After(time.Second):
		t.Fatal("no sample delivered")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
