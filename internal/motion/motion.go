// Package motion reads device acceleration with gravity removed
package motion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/sirupsen/logrus"
)

// StandardGravity converts m/s² into g
const StandardGravity = 9.80665

// DefaultIIORoot is where Linux exposes industrial I/O devices
const DefaultIIORoot = "/sys/bus/iio/devices"

var ErrNoAccelerometer = errors.New("no accelerometer found")

// Vector is an acceleration in g. Norm is its magnitude.
type Vector = r3.Vector

// Sensor yields user acceleration, the device acceleration minus gravity
type Sensor interface {
	Sample() (Vector, error)
}

// Nop is a sensor for hosts without an accelerometer. It never reports motion.
type Nop struct{}

func (Nop) Sample() (Vector, error) { return Vector{}, nil }

// IIO reads an accelerometer through sysfs and removes gravity with a
// low-pass filter
type IIO struct {
	dir   string
	scale float64
	alpha float64

	mu      sync.Mutex
	gravity Vector
	primed  bool
}

// OpenIIO finds the first device under root exposing accelerometer axes
func OpenIIO(root string) (*IIO, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAccelerometer, err)
	}
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, "in_accel_x_raw")); err != nil {
			continue
		}
		scale := 1.0
		if v, err := readFloat(filepath.Join(dir, "in_accel_scale")); err == nil {
			scale = v
		}
		return &IIO{dir: dir, scale: scale, alpha: 0.8}, nil
	}
	return nil, ErrNoAccelerometer
}

func (s *IIO) Dir() string { return s.dir }

func (s *IIO) Sample() (Vector, error) {
	var raw [3]float64
	for i, axis := range []string{"x", "y", "z"} {
		v, err := readFloat(filepath.Join(s.dir, "in_accel_"+axis+"_raw"))
		if err != nil {
			return Vector{}, err
		}
		raw[i] = v * s.scale / StandardGravity
	}
	accel := Vector{X: raw[0], Y: raw[1], Z: raw[2]}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.primed {
		s.gravity = accel
		s.primed = true
		return Vector{}, nil
	}
	s.gravity = s.gravity.Mul(s.alpha).Add(accel.Mul(1 - s.alpha))
	return accel.Sub(s.gravity), nil
}

func readFloat(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
}

// Detect opens the IIO accelerometer at root, or falls back to Nop
func Detect(root string, logger *logrus.Logger) Sensor {
	s, err := OpenIIO(root)
	if err != nil {
		logger.WithError(err).Info("Motion sensing disabled")
		return Nop{}
	}
	logger.WithField("device", s.Dir()).Info("Using accelerometer")
	return s
}

// Run samples sensor every interval and passes each reading to handle until
// ctx is cancelled. Read errors are logged and the sample is skipped.
func Run(ctx context.Context, sensor Sensor, interval time.Duration, handle func(Vector, time.Time), logger *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			v, err := sensor.Sample()
			if err != nil {
				logger.WithError(err).Debug("Motion sample failed")
				continue
			}
			handle(v, now)
		}
	}
}
