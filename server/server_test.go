package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up4200/molnus/coordinator"
	"github.com/s0up4200/molnus/molnus"
)

type fakeSource struct {
	id      string
	state   *coordinator.State
	success bool
	err     error
}

func (f *fakeSource) CameraID() string         { return f.id }
func (f *fakeSource) Data() *coordinator.State { return f.state }
func (f *fakeSource) LastUpdateSuccess() bool  { return f.success }
func (f *fakeSource) LastError() error         { return f.err }

type fakeImages struct {
	data []byte
	err  error
}

func (f *fakeImages) Image(context.Context, *coordinator.State) ([]byte, error) {
	return f.data, f.err
}

var jpeg = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func latestState(url string) *coordinator.State {
	img := molnus.Image{ID: "42", URL: url, CaptureDate: "2024-01-02T00:00:00Z"}
	return &coordinator.State{
		Images:    []molnus.Image{img},
		Latest:    img,
		UpdatedAt: time.Date(2024, 1, 2, 0, 1, 0, 0, time.UTC),
	}
}

func newTestServer() *Server {
	return New([]Camera{
		{
			Name:    "Back field",
			EntryID: "entry-1",
			Source:  &fakeSource{id: "cam-1", state: latestState("https://cdn/42.jpg"), success: true},
			Images:  &fakeImages{data: jpeg},
		},
		{
			Name:   "Pending",
			Source: &fakeSource{id: "cam-2", err: errors.New("failed to get images: boom")},
			Images: &fakeImages{},
		},
		{
			Name:   "Empty",
			Source: &fakeSource{id: "cam-3", state: &coordinator.State{Images: []molnus.Image{}}, success: true},
			Images: &fakeImages{},
		},
		{
			Name:   "Broken CDN",
			Source: &fakeSource{id: "cam-4", state: latestState("https://cdn/x.jpg"), success: true},
			Images: &fakeImages{err: &molnus.HTTPError{StatusCode: 403}},
		},
	}, zerolog.Nop())
}

func do(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDPassthrough(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestListCameras(t *testing.T) {
	rec := do(t, newTestServer(), "/api/cameras")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []cameraResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 4)

	assert.Equal(t, "cam-1", out[0].CameraID)
	assert.True(t, out[0].Available)
	assert.Equal(t, 1, out[0].Images)
	assert.Equal(t, "42", out[0].Sensor.Value)

	assert.Equal(t, "cam-2", out[1].CameraID)
	assert.False(t, out[1].Available)
	assert.Nil(t, out[1].UpdatedAt)
	assert.Equal(t, "failed to get images: boom", out[1].Error)
}

func TestLatest(t *testing.T) {
	s := newTestServer()

	rec := do(t, s, "/api/cameras/cam-1/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var out cameraResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "42", out.Sensor.Value)
	assert.Equal(t, "https://cdn/42.jpg", out.Sensor.Attributes["url"])
	assert.Equal(t, "entry-1", out.EntryID)

	rec = do(t, s, "/api/cameras/nope/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImage(t *testing.T) {
	s := newTestServer()

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{"serves bytes", "/api/cameras/cam-1/image", http.StatusOK},
		{"nothing cached after failure", "/api/cameras/cam-2/image", http.StatusServiceUnavailable},
		{"no image", "/api/cameras/cam-3/image", http.StatusNotFound},
		{"download failed", "/api/cameras/cam-4/image", http.StatusBadGateway},
		{"unknown camera", "/api/cameras/cam-9/image", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.path)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}

	rec := do(t, s, "/api/cameras/cam-1/image")
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, jpeg, rec.Body.Bytes())
}

func TestMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/cameras", nil)
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
