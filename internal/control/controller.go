package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
	"github.com/foxseedlab/vrchat-asr/internal/config"
	"github.com/foxseedlab/vrchat-asr/internal/session"
)

var (
	ErrAlreadyRunning  = errors.New("worker is already running")
	ErrNotRunning      = errors.New("worker is not running")
	ErrInvalidSettings = errors.New("settings are invalid")
)

// SettingsStore persists the setting document. Effective returns the
// document with process-level overrides applied; it is what workers run
// with and is never saved back.
type SettingsStore interface {
	Load() (config.Settings, error)
	Save(settings config.Settings) error
	Effective() (config.Settings, error)
}

// Runner is one worker built from a settings snapshot.
type Runner interface {
	Run(ctx context.Context) error
	Status() session.Status
}

// RunnerFactory builds a Runner for settings. The returned release func
// frees everything the runner was built with and is called once the
// runner has returned.
type RunnerFactory func(settings config.Settings) (Runner, func() error, error)

type WorkerStatus struct {
	Running   bool           `json:"running"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	Session   session.Status `json:"session"`
}

// Controller backs the settings panel: it reads and writes the setting
// document and starts or stops one background worker.
type Controller struct {
	store   SettingsStore
	devices audio.DeviceLister
	factory RunnerFactory

	mu        sync.Mutex
	runner    Runner
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	lastErr   error
	lastRun   session.Status
}

func NewController(store SettingsStore, devices audio.DeviceLister, factory RunnerFactory) *Controller {
	return &Controller{store: store, devices: devices, factory: factory}
}

func (c *Controller) Settings() (config.Settings, error) {
	settings, err := c.store.Load()
	if err != nil {
		return settings, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// SaveSettings persists settings. A running worker keeps the snapshot it
// was started with until it is restarted.
func (c *Controller) SaveSettings(settings config.Settings) error {
	if err := c.store.Save(settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	slog.Info("settings saved")
	return nil
}

func (c *Controller) Defaults() config.Settings {
	return config.Default()
}

func (c *Controller) Devices() ([]audio.Device, error) {
	if c.devices == nil {
		return nil, errors.New("device listing is not available")
	}
	devices, err := c.devices.InputDevices()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	return devices, nil
}

// Start loads the current settings, validates them and launches a worker
// in the background.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runner != nil {
		return ErrAlreadyRunning
	}

	settings, err := c.store.Effective()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	runner, release, err := c.factory(settings)
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.runner = runner
	c.cancel = cancel
	c.done = done
	c.startedAt = time.Now()
	c.lastErr = nil
	slog.Info("worker started", "asr_provider", settings.ASRProvider, "micro_device_id", settings.MicroDeviceID)

	go func() {
		defer close(done)
		runErr := runner.Run(runCtx)
		if err := release(); err != nil {
			slog.Warn("failed to release worker resources", "error", err)
		}
		c.finish(runner, runErr)
	}()
	return nil
}

func (c *Controller) finish(runner Runner, runErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if runErr != nil {
		slog.Error("worker exited with error", "error", runErr)
	} else {
		slog.Info("worker stopped")
	}
	c.lastErr = runErr
	c.lastRun = runner.Status()
	c.runner = nil
	c.cancel = nil
}

// Stop cancels the worker and waits for it to release the device, or for
// ctx to expire.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.runner == nil {
		c.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for worker to stop: %w", ctx.Err())
	}
}

func (c *Controller) Status() WorkerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := WorkerStatus{Session: c.lastRun}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	if c.runner != nil {
		startedAt := c.startedAt
		status.Running = true
		status.StartedAt = &startedAt
		status.Session = c.runner.Status()
	}
	return status
}

// Wait blocks until the current worker, if any, has exited.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}
