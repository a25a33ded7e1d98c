package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up4200/molnus/filter"
	"github.com/s0up4200/molnus/molnus"
)

type fakeSource struct {
	mu      sync.Mutex
	images  []molnus.Image
	err     error
	queries []molnus.ImageQuery
}

func (f *fakeSource) GetImages(_ context.Context, query molnus.ImageQuery) ([]molnus.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return append([]molnus.Image(nil), f.images...), nil
}

func (f *fakeSource) set(images []molnus.Image, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = images
	f.err = err
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func newTestCoordinator(t *testing.T, source ImageSource, cfg Config) *Coordinator {
	t.Helper()
	if cfg.CameraID == "" {
		cfg.CameraID = "cam-1"
	}
	c, err := New(source, cfg, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func ids(images []molnus.Image) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = img.ID.String()
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		source  ImageSource
		cfg     Config
		wantErr string
	}{
		{name: "missing source", cfg: Config{CameraID: "cam"}, wantErr: "image source is required"},
		{name: "missing camera", source: &fakeSource{}, wantErr: "camera id is required"},
		{
			name:    "interval too short",
			source:  &fakeSource{},
			cfg:     Config{CameraID: "cam", ScanInterval: 5 * time.Second},
			wantErr: "below the minimum",
		},
		{name: "defaults", source: &fakeSource{}, cfg: Config{CameraID: "cam"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.source, tt.cfg, zerolog.Nop())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultScanInterval, c.ScanInterval())
			assert.Equal(t, DefaultLimit, c.cfg.Limit)
			assert.Equal(t, "cam", c.CameraID())
			assert.Nil(t, c.Data())
		})
	}
}

func TestRefreshSortsNewestFirst(t *testing.T) {
	source := &fakeSource{images: []molnus.Image{
		{ID: "a", CaptureDate: "2024-01-01T00:00:00Z"},
		{ID: "b", CaptureDate: "2024-01-02T00:00:00Z"},
	}}
	c := newTestCoordinator(t, source, Config{Limit: 5, WildlifeRequired: true})

	require.NoError(t, c.Refresh(context.Background()))

	state := c.Data()
	require.NotNil(t, state)
	assert.Equal(t, []string{"b", "a"}, ids(state.Images))
	assert.Equal(t, "b", state.Latest.ID.String())
	assert.True(t, c.LastUpdateSuccess())
	assert.NoError(t, c.LastError())

	require.Len(t, source.queries, 1)
	assert.Equal(t, molnus.ImageQuery{CameraID: "cam-1", Offset: 0, Limit: 5, WildlifeRequired: true}, source.queries[0])
}

func TestRefreshEmpty(t *testing.T) {
	c := newTestCoordinator(t, &fakeSource{images: []molnus.Image{}}, Config{})

	require.NoError(t, c.Refresh(context.Background()))

	state := c.Data()
	require.NotNil(t, state)
	assert.Empty(t, state.Images)
	assert.True(t, state.Latest.IsZero())
}

func TestRefreshFailureKeepsPreviousState(t *testing.T) {
	source := &fakeSource{images: []molnus.Image{{ID: "a", CaptureDate: "2024-01-01T00:00:00Z"}}}
	c := newTestCoordinator(t, source, Config{})
	require.NoError(t, c.Refresh(context.Background()))
	before := c.Data()

	source.set(nil, errors.New("failed to get images: boom"))
	err := c.Refresh(context.Background())
	require.Error(t, err)

	var updateErr *UpdateFailedError
	require.ErrorAs(t, err, &updateErr)
	assert.Equal(t, "failed to get images: boom", err.Error())
	assert.True(t, IsUpdateFailed(err))
	assert.False(t, c.LastUpdateSuccess())
	assert.Equal(t, err, c.LastError())
	assert.Same(t, before, c.Data())

	// Recovery clears the error
	source.set([]molnus.Image{{ID: "b"}}, nil)
	require.NoError(t, c.Refresh(context.Background()))
	assert.True(t, c.LastUpdateSuccess())
	assert.NoError(t, c.LastError())
	assert.Equal(t, "b", c.Data().Latest.ID.String())
}

func TestRefreshWrapsClientErrors(t *testing.T) {
	httpErr := &molnus.HTTPError{StatusCode: 500, Method: "GET", URL: "https://molnus.com/images/get"}
	c := newTestCoordinator(t, &fakeSource{err: httpErr}, Config{})

	err := c.Refresh(context.Background())
	require.Error(t, err)

	var target *molnus.HTTPError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, 500, target.StatusCode)
	assert.Equal(t, httpErr.Error(), err.Error())
}

func TestRefreshAppliesFilter(t *testing.T) {
	f, err := filter.Compile(`hasLabel("fox")`)
	require.NoError(t, err)

	source := &fakeSource{images: []molnus.Image{
		{ID: "deer", CaptureDate: "2024-01-03T00:00:00Z", Predictions: []molnus.Prediction{{Label: "deer", Accuracy: 0.9}}},
		{ID: "fox-old", CaptureDate: "2024-01-01T00:00:00Z", Predictions: []molnus.Prediction{{Label: "fox", Accuracy: 0.8}}},
		{ID: "fox-new", CaptureDate: "2024-01-02T00:00:00Z", Predictions: []molnus.Prediction{{Label: "fox", Accuracy: 0.7}}},
	}}
	c := newTestCoordinator(t, source, Config{Limit: 3, Filter: f})

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, []string{"fox-new", "fox-old"}, ids(c.Data().Images))
	assert.Equal(t, "fox-new", c.Data().Latest.ID.String())
}

func TestFirstRefresh(t *testing.T) {
	c := newTestCoordinator(t, &fakeSource{err: errors.New("unauthorized")}, Config{})

	err := c.FirstRefresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.True(t, IsUpdateFailed(err))
	assert.Contains(t, err.Error(), "unauthorized")

	ok := newTestCoordinator(t, &fakeSource{}, Config{})
	assert.NoError(t, ok.FirstRefresh(context.Background()))
}

func TestListeners(t *testing.T) {
	source := &fakeSource{}
	c := newTestCoordinator(t, source, Config{})

	var calls atomic.Int32
	remove := c.AddListener(func() { calls.Add(1) })

	require.NoError(t, c.Refresh(context.Background()))
	source.set(nil, errors.New("boom"))
	require.Error(t, c.Refresh(context.Background()))
	assert.Equal(t, int32(2), calls.Load())

	remove()
	_ = c.Refresh(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestRunKeepsPollingAfterFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("boom")}
	c := newTestCoordinator(t, source, Config{})
	// tests poll faster than the configured minimum
	c.cfg.ScanInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return source.calls() >= 2 }, time.Second, time.Millisecond)
	source.set([]molnus.Image{{ID: "a"}}, nil)
	require.Eventually(t, c.LastUpdateSuccess, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.Equal(t, "a", c.Data().Latest.ID.String())
}
