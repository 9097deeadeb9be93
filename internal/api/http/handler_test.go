package http

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/fractal"
	"distributed-fractal/internal/master"
	"distributed-fractal/internal/sink"
)

type fakeCoordinator struct {
	mu      sync.Mutex
	status  master.Status
	err     error
	max     int
	limits  map[domain.WorkerClass]int
	initted []string
}

func (f *fakeCoordinator) Stats(context.Context) (master.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.err
}

func (f *fakeCoordinator) SetLimit(_ context.Context, class domain.WorkerClass, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	limit = min(limit, f.max)
	f.limits[class] = limit
	return limit, nil
}

func (f *fakeCoordinator) Init(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initted = append(f.initted, s)
}

func newTestServer(t *testing.T, coord *fakeCoordinator, frames FrameSource) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(coord, frames, slog.New(slog.NewTextHandler(io.Discard, nil))).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandler_Frames(t *testing.T) {
	store := sink.NewFrameStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, store.Deliver(4, image.NewRGBA(image.Rect(0, 0, 5, 3))))
	srv := newTestServer(t, &fakeCoordinator{}, store)

	resp := do(t, http.MethodGet, srv.URL+"/frames", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list FramesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Equal(t, []uint32{4}, list.IDs)
	require.False(t, list.Complete)

	resp = do(t, http.MethodGet, srv.URL+"/frames/4", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	img, err := fractal.Decode(b)
	require.NoError(t, err)
	require.Equal(t, 5, img.Bounds().Dx())

	require.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/frames/5", "").StatusCode)
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, srv.URL+"/frames/x", "").StatusCode)
}

func TestHandler_FramesWithoutStore(t *testing.T) {
	srv := newTestServer(t, &fakeCoordinator{}, nil)
	require.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/frames", "").StatusCode)
}

func TestHandler_Pool(t *testing.T) {
	coord := &fakeCoordinator{status: master.Status{State: "running", Total: 10, Completed: 3}}
	srv := newTestServer(t, coord, nil)

	resp := do(t, http.MethodGet, srv.URL+"/pool", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got master.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "running", got.State)
	require.Equal(t, uint32(3), got.Completed)

	coord.mu.Lock()
	coord.err = domain.ErrStopped
	coord.mu.Unlock()
	require.Equal(t, http.StatusServiceUnavailable, do(t, http.MethodGet, srv.URL+"/pool", "").StatusCode)
}

func TestHandler_SetLimit(t *testing.T) {
	coord := &fakeCoordinator{max: 4, limits: map[domain.WorkerClass]int{}}
	srv := newTestServer(t, coord, nil)

	tests := []struct {
		name     string
		body     string
		wantCode int
		want     LimitResponse
	}{
		{name: "applied", body: `{"class":"normal","limit":2}`, wantCode: http.StatusOK, want: LimitResponse{Class: "normal", Limit: 2}},
		{name: "clamped", body: `{"class":"accelerated","limit":9}`, wantCode: http.StatusOK, want: LimitResponse{Class: "accelerated", Limit: 4}},
		{name: "alias", body: `{"class":"cpu","limit":3}`, wantCode: http.StatusOK, want: LimitResponse{Class: "normal", Limit: 3}},
		{name: "gpu alias", body: `{"class":"gpu","limit":1}`, wantCode: http.StatusOK, want: LimitResponse{Class: "accelerated", Limit: 1}},
		{name: "unknown class", body: `{"class":"quantum","limit":1}`, wantCode: http.StatusBadRequest},
		{name: "negative", body: `{"class":"normal","limit":-1}`, wantCode: http.StatusBadRequest},
		{name: "malformed", body: `{`, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPut, srv.URL+"/pool/limits", tt.body)
			require.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantCode != http.StatusOK {
				return
			}
			var got LimitResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			require.Equal(t, tt.want, got)
		})
	}
	require.Equal(t, map[domain.WorkerClass]int{domain.ClassNormal: 3, domain.ClassAccelerated: 1}, coord.limits)
}

func TestHandler_Init(t *testing.T) {
	coord := &fakeCoordinator{}
	srv := newTestServer(t, coord, nil)

	require.Equal(t, http.StatusAccepted, do(t, http.MethodPost, srv.URL+"/init", `{"sink":"frames"}`).StatusCode)
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/init", `{"sink":""}`).StatusCode)
	require.Equal(t, []string{"frames"}, coord.initted)
}

func TestHandler_Status(t *testing.T) {
	srv := newTestServer(t, &fakeCoordinator{}, nil)

	resp := do(t, http.MethodGet, srv.URL+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Positive(t, got.System.TotalCPUCores)
	require.Positive(t, got.System.NumGoroutine)
}

func TestCORS(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(&fakeCoordinator{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil))).RegisterRoutes(mux)
	srv := httptest.NewServer(CORS(mux))
	t.Cleanup(srv.Close)

	resp := do(t, http.MethodOptions, srv.URL+"/pool/limits", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = do(t, http.MethodGet, srv.URL+"/pool", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
