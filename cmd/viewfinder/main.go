// Live camera viewfinder with real-time filters
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/theme"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"filter-viewfinder/internal/camera"
	"filter-viewfinder/internal/config"
	"filter-viewfinder/internal/display"
	"filter-viewfinder/internal/gui"
	"filter-viewfinder/internal/motion"
	"filter-viewfinder/internal/viewfinder"
)

const (
	AppName    = "Filter Viewfinder"
	AppID      = "io.github.filter-viewfinder"
	AppVersion = "1.0.0"
)

// stillFrameInterval paces the still-image source
const stillFrameInterval = time.Second / 30

func main() {
	debugMode := flag.Bool("debug", false, "Enable debug mode with verbose logging")
	configPath := flag.String("config", config.DefaultPath, "Path to the YAML configuration file")
	source := flag.String("source", "", "Replay a still image instead of opening a camera")
	facing := flag.String("facing", "", "Initial camera facing (front or back)")
	filterID := flag.String("filter", "", "Initial filter identifier")
	flag.Parse()

	logger := initLogger(*debugMode)
	logger.WithFields(logrus.Fields{
		"version":    AppVersion,
		"debug_mode": *debugMode,
	}).Info("Starting " + AppName)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if *source != "" {
		cfg.Camera.Source = *source
	}
	if *facing != "" {
		cfg.Camera.Facing = *facing
	}
	if *filterID != "" {
		cfg.Filter.Default = *filterID
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	opts, err := viewfinder.OptionsFromConfig(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	myApp := app.NewWithID(AppID)
	myApp.SetIcon(theme.MediaVideoIcon())
	myApp.Settings().SetTheme(theme.DefaultTheme())

	surface, err := display.NewSurface(myApp, cfg.Display.Width, cfg.Display.Height)
	if err != nil {
		if errors.Is(err, display.ErrNoGPU) {
			logger.WithError(err).Fatal("Cannot render without a GPU")
		}
		logger.WithError(err).Fatal("Failed to create display surface")
	}

	vf, err := viewfinder.New(viewfinder.Deps{
		Discovery: discoveryFor(cfg),
		Surface:   surface,
		Link: display.TickerLink{
			Interval: cfg.Display.RefreshInterval(),
			Dispatch: fyne.Do,
		},
		Clock:  clockwork.NewRealClock(),
		Sensor: sensorFor(cfg, logger),
	}, opts, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create viewfinder")
	}

	ctx, cancel := context.WithCancel(context.Background())
	myApp.Lifecycle().SetOnStarted(func() {
		go func() {
			if err := vf.Start(ctx); err != nil {
				logger.WithError(err).Error("Camera unavailable, switch facing to retry")
			}
		}()
	})

	mainApp := gui.NewApplication(myApp, vf, surface, logger)
	mainApp.ShowAndRun()

	cancel()
	if err := vf.Close(); err != nil {
		logger.WithError(err).Warn("Error during shutdown")
	}
	logger.Info("Application shutting down gracefully")
	os.Exit(0)
}

func discoveryFor(cfg *config.Config) camera.Discovery {
	if cfg.Camera.Source != "" {
		return camera.StillDiscovery{
			Path:     cfg.Camera.Source,
			MaxZoom:  cfg.Camera.MaxZoom,
			Interval: stillFrameInterval,
		}
	}
	return camera.VideoDiscovery{
		BackIndex:  cfg.Camera.BackIndex,
		FrontIndex: cfg.Camera.FrontIndex,
		MaxZoom:    cfg.Camera.MaxZoom,
	}
}

// sensorFor picks the motion source. "off" disables motion sensing and an
// empty value searches the default IIO bus.
func sensorFor(cfg *config.Config, logger *logrus.Logger) motion.Sensor {
	switch cfg.Focus.Accelerometer {
	case "off":
		return motion.Nop{}
	case "":
		return motion.Detect(motion.DefaultIIORoot, logger)
	default:
		return motion.Detect(cfg.Focus.Accelerometer, logger)
	}
}

// initLogger initializes the logger with appropriate level
func initLogger(debugMode bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger
}
