package entity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/s0up4200/molnus/coordinator"
)

// imageFetchTimeout bounds a shared download once its caller is gone
const imageFetchTimeout = 2 * time.Minute

// BytesFetcher downloads raw image bytes
type BytesFetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// Camera serves the latest image bytes of one camera.
// Bytes are cached by URL since a new upload gets a new URL.
type Camera struct {
	cameraID string
	fetcher  BytesFetcher
	logger   zerolog.Logger

	mu        sync.Mutex
	lastURL   string
	lastBytes []byte

	group singleflight.Group
}

// NewCamera creates a camera projection
func NewCamera(cameraID string, fetcher BytesFetcher, logger zerolog.Logger) *Camera {
	return &Camera{
		cameraID: cameraID,
		fetcher:  fetcher,
		logger:   logger.With().Str("camera_id", cameraID).Logger(),
	}
}

// UniqueID returns the camera entity's unique id
func (c *Camera) UniqueID() string {
	return CameraUniqueID(c.cameraID)
}

// LatestURL returns the content URL of the latest image, if any
func LatestURL(state *coordinator.State) string {
	if state == nil {
		return ""
	}
	return state.Latest.URL
}

// Image returns the bytes of the latest image.
// It returns nil without error when there is no image URL.
func (c *Camera) Image(ctx context.Context, state *coordinator.State) ([]byte, error) {
	url := LatestURL(state)
	if url == "" {
		return nil, nil
	}

	if cached, ok := c.cached(url); ok {
		return cached, nil
	}

	// Shared downloads outlive the caller that started them.
	// Each caller still returns when its own ctx is done.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(url, func() (any, error) {
		if cached, ok := c.cached(url); ok {
			return cached, nil
		}

		dlCtx, cancel := context.WithTimeout(fetchCtx, imageFetchTimeout)
		defer cancel()

		data, err := c.fetcher.FetchBytes(dlCtx, url)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.lastURL = url
		c.lastBytes = data
		c.mu.Unlock()

		c.logger.Debug().Int("bytes", len(data)).Msg("Downloaded latest image")
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Trace().Msg("Shared in-flight image download")
		}
		return res.Val.([]byte), nil
	}
}

func (c *Camera) cached(url string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastURL == url && c.lastBytes != nil {
		return c.lastBytes, true
	}
	return nil, false
}
