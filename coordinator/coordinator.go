package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/s0up4200/molnus/filter"
	"github.com/s0up4200/molnus/molnus"
)

const (
	// DefaultLimit is the number of images requested per poll
	DefaultLimit = 1
	// DefaultScanInterval is the poll cadence
	DefaultScanInterval = 60 * time.Second
	// MinScanInterval is the fastest allowed poll cadence
	MinScanInterval = 10 * time.Second
)

// ImageSource lists images for a camera
type ImageSource interface {
	GetImages(ctx context.Context, query molnus.ImageQuery) ([]molnus.Image, error)
}

// Config holds the per-camera polling options
type Config struct {
	CameraID         string
	WildlifeRequired bool
	Limit            int
	ScanInterval     time.Duration
	Filter           filter.Filter
}

// State is the committed result of one successful refresh
type State struct {
	Images    []molnus.Image
	Latest    molnus.Image
	UpdatedAt time.Time
}

// Listener is called after every refresh attempt
type Listener func()

// Coordinator polls a camera and holds its latest image state
type Coordinator struct {
	source ImageSource
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	state   atomic.Pointer[State]
	lastErr atomic.Pointer[error]
	success atomic.Bool

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// New creates a coordinator for one camera
func New(source ImageSource, cfg Config, logger zerolog.Logger) (*Coordinator, error) {
	if source == nil {
		return nil, errors.New("image source is required")
	}
	if cfg.CameraID == "" {
		return nil, errors.New("camera id is required")
	}
	if cfg.Limit < 1 {
		cfg.Limit = DefaultLimit
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.ScanInterval < MinScanInterval {
		return nil, fmt.Errorf("scan interval %s is below the minimum of %s", cfg.ScanInterval, MinScanInterval)
	}

	return &Coordinator{
		source:    source,
		cfg:       cfg,
		logger:    logger.With().Str("camera_id", cfg.CameraID).Logger(),
		now:       time.Now,
		listeners: make(map[int]Listener),
	}, nil
}

// CameraID returns the camera this coordinator polls
func (c *Coordinator) CameraID() string {
	return c.cfg.CameraID
}

// ScanInterval returns the poll cadence
func (c *Coordinator) ScanInterval() time.Duration {
	return c.cfg.ScanInterval
}

// Refresh fetches, filters and sorts the camera's images and commits the
// result. On failure the previous state stays visible and the error is an
// *UpdateFailedError.
func (c *Coordinator) Refresh(ctx context.Context) error {
	state, err := c.fetch(ctx)
	if err != nil {
		updateErr := &UpdateFailedError{Err: err}
		var stored error = updateErr
		c.lastErr.Store(&stored)
		c.success.Store(false)
		c.notify()
		return updateErr
	}

	c.state.Store(state)
	c.lastErr.Store(nil)
	c.success.Store(true)

	c.logger.Debug().
		Int("images", len(state.Images)).
		Str("latest_id", state.Latest.ID.String()).
		Msg("Refreshed images")

	c.notify()
	return nil
}

func (c *Coordinator) fetch(ctx context.Context) (*State, error) {
	images, err := c.source.GetImages(ctx, molnus.ImageQuery{
		CameraID:         c.cfg.CameraID,
		Offset:           0,
		Limit:            max(1, c.cfg.Limit),
		WildlifeRequired: c.cfg.WildlifeRequired,
	})
	if err != nil {
		return nil, err
	}

	images, err = filter.Apply(c.cfg.Filter, images)
	if err != nil {
		return nil, err
	}

	sorted := SortImages(images)
	state := &State{
		Images:    sorted,
		UpdatedAt: c.now(),
	}
	if len(sorted) > 0 {
		state.Latest = sorted[0]
	}
	return state, nil
}

// FirstRefresh performs the eager startup refresh.
// A failure wraps ErrNotReady.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return nil
}

// Run refreshes on every tick until ctx is cancelled.
// Failures are logged; the loop keeps going.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn().Err(err).Msg("Error fetching Molnus data")
			}
		}
	}
}

// Data returns the last committed state, or nil before the first success
func (c *Coordinator) Data() *State {
	return c.state.Load()
}

// LastUpdateSuccess reports whether the most recent refresh succeeded
func (c *Coordinator) LastUpdateSuccess() bool {
	return c.success.Load()
}

// LastError returns the error from the most recent refresh, if it failed
func (c *Coordinator) LastError() error {
	if errp := c.lastErr.Load(); errp != nil {
		return *errp
	}
	return nil
}

// AddListener registers fn to run after every refresh.
// The returned func removes it.
func (c *Coordinator) AddListener(fn Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
