package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/vidpipe/internal/adapter/http/ratelimit"
	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/port"
	"github.com/bnema/vidpipe/internal/service"
)

type pipelineMock struct {
	mock.Mock
}

func (m *pipelineMock) Add(locator string, quality domain.Quality) (string, error) {
	args := m.Called(locator, quality)
	return args.String(0), args.Error(1)
}

func (m *pipelineMock) AddPlaylist(ctx context.Context, locator string, quality domain.Quality) ([]string, error) {
	args := m.Called(ctx, locator, quality)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *pipelineMock) Items() port.State {
	return m.Called().Get(0).(port.State)
}

func (m *pipelineMock) Item(id string) (domain.Item, bool) {
	args := m.Called(id)
	return args.Get(0).(domain.Item), args.Bool(1)
}

func (m *pipelineMock) Progress(id string) (service.Progress, bool) {
	args := m.Called(id)
	return args.Get(0).(service.Progress), args.Bool(1)
}

func (m *pipelineMock) Counts() map[domain.Status]int {
	return m.Called().Get(0).(map[domain.Status]int)
}

func (m *pipelineMock) Start(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *pipelineMock) Pause()                          { m.Called() }
func (m *pipelineMock) Resume()                         { m.Called() }
func (m *pipelineMock) Stop()                           { m.Called() }
func (m *pipelineMock) Reset() error                    { return m.Called().Error(0) }
func (m *pipelineMock) RetryFailed() int                { return m.Called().Int(0) }
func (m *pipelineMock) ClearFinished() int              { return m.Called().Int(0) }
func (m *pipelineMock) Running() bool                   { return m.Called().Bool(0) }
func (m *pipelineMock) Paused() bool                    { return m.Called().Bool(0) }

const testToken = "correct-horse-battery-staple"

func newTestServer(t *testing.T, p Pipeline, withToken bool) *Server {
	t.Helper()
	hash := ""
	if withToken {
		var err error
		hash, err = service.HashToken(testToken)
		require.NoError(t, err)
	}
	authSvc, err := service.NewAuthService(hash, "")
	require.NoError(t, err)

	s := NewServer(context.Background(), p, authSvc, service.NewEventBus(), false)
	s.backoff = ratelimit.NewBackoff(time.Millisecond, time.Millisecond, 1)
	t.Cleanup(s.Close)
	return s
}

func do(s *Server, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestAddItem(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(p *pipelineMock)
		wantStatus int
		wantBody   string
	}{
		{
			name: "default quality",
			body: `{"locator":"https://youtu.be/abc"}`,
			setup: func(p *pipelineMock) {
				p.On("Add", "https://youtu.be/abc", domain.Quality("")).Return("id-1", nil)
			},
			wantStatus: http.StatusCreated,
			wantBody:   `{"id":"id-1"}`,
		},
		{
			name: "explicit quality",
			body: `{"locator":"https://youtu.be/abc","quality":"720P"}`,
			setup: func(p *pipelineMock) {
				p.On("Add", "https://youtu.be/abc", domain.Quality720p).Return("id-2", nil)
			},
			wantStatus: http.StatusCreated,
			wantBody:   `{"id":"id-2"}`,
		},
		{
			name:       "unknown quality",
			body:       `{"locator":"https://youtu.be/abc","quality":"4k"}`,
			setup:      func(*pipelineMock) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{"locator":`,
			setup:      func(*pipelineMock) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       `{"url":"https://youtu.be/abc"}`,
			setup:      func(*pipelineMock) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "empty locator",
			body: `{"locator":""}`,
			setup: func(p *pipelineMock) {
				p.On("Add", "", domain.Quality("")).Return("", domain.ErrInvalidLocator)
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &pipelineMock{}
			tt.setup(p)
			s := newTestServer(t, p, false)

			rec := do(s, http.MethodPost, "/api/items", tt.body, "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			p.AssertExpectations(t)
		})
	}
}

func TestAddPlaylist(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		p := &pipelineMock{}
		p.On("AddPlaylist", mock.Anything, "https://www.youtube.com/playlist?list=PL1", domain.QualityAudio48k).
			Return([]string{"a", "b"}, nil)
		s := newTestServer(t, p, false)

		rec := do(s, http.MethodPost, "/api/playlists", `{"locator":"https://www.youtube.com/playlist?list=PL1","quality":"48k"}`, "")

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.JSONEq(t, `{"ids":["a","b"]}`, rec.Body.String())
	})

	t.Run("not configured", func(t *testing.T) {
		p := &pipelineMock{}
		p.On("AddPlaylist", mock.Anything, "x", domain.Quality("")).Return(nil, service.ErrNoPlaylists)
		s := newTestServer(t, p, false)

		rec := do(s, http.MethodPost, "/api/playlists", `{"locator":"x"}`, "")
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})
}

func TestListItems(t *testing.T) {
	p := &pipelineMock{}
	p.On("Items").Return(port.State{Stages: map[domain.Status][]domain.Item{
		domain.StatusPending: {{ID: "a", Status: domain.StatusPending}},
		domain.StatusFailed:  {{ID: "b", Status: domain.StatusFailed, LastError: "boom"}},
	}})
	p.On("Running").Return(true)
	p.On("Paused").Return(false)
	s := newTestServer(t, p, false)

	rec := do(s, http.MethodGet, "/api/items", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[itemsResponse](t, rec)
	assert.True(t, resp.Running)
	assert.False(t, resp.Paused)
	assert.Equal(t, 1, resp.Counts["pending"])
	assert.Equal(t, 0, resp.Counts["ready"])
	assert.Len(t, resp.Stages, len(domain.Stages))
	assert.Equal(t, "boom", resp.Stages["failed"][0].LastError)
}

func TestGetItem(t *testing.T) {
	p := &pipelineMock{}
	p.On("Item", "a").Return(domain.Item{ID: "a", Status: domain.StatusTransferring}, true)
	p.On("Progress", "a").Return(service.Progress{ItemID: "a", Percent: 40}, true)
	p.On("Item", "missing").Return(domain.Item{}, false)
	s := newTestServer(t, p, false)

	rec := do(s, http.MethodGet, "/api/items/a", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[itemResponse](t, rec)
	assert.Equal(t, domain.StatusTransferring, resp.Item.Status)
	require.NotNil(t, resp.Progress)
	assert.Equal(t, 40, resp.Progress.Percent)

	rec = do(s, http.MethodGet, "/api/items/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestControl(t *testing.T) {
	tests := []struct {
		action     string
		setup      func(p *pipelineMock)
		wantStatus int
		wantBody   string
	}{
		{"start", func(p *pipelineMock) { p.On("Start", mock.Anything).Return(nil) }, http.StatusAccepted, `{"status":"started"}`},
		{"start", func(p *pipelineMock) { p.On("Start", mock.Anything).Return(domain.ErrRunning) }, http.StatusConflict, ""},
		{"pause", func(p *pipelineMock) { p.On("Pause").Return() }, http.StatusOK, `{"status":"paused"}`},
		{"resume", func(p *pipelineMock) { p.On("Resume").Return() }, http.StatusOK, `{"status":"resumed"}`},
		{"stop", func(p *pipelineMock) { p.On("Stop").Return() }, http.StatusOK, `{"status":"stopping"}`},
		{"reset", func(p *pipelineMock) { p.On("Reset").Return(nil) }, http.StatusOK, `{"status":"reset"}`},
		{"reset", func(p *pipelineMock) { p.On("Reset").Return(domain.ErrRunning) }, http.StatusConflict, ""},
		{"retry-failed", func(p *pipelineMock) { p.On("RetryFailed").Return(2) }, http.StatusOK, `{"count":2}`},
		{"clear-finished", func(p *pipelineMock) { p.On("ClearFinished").Return(5) }, http.StatusOK, `{"count":5}`},
		{"explode", func(*pipelineMock) {}, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			p := &pipelineMock{}
			tt.setup(p)
			s := newTestServer(t, p, false)

			rec := do(s, http.MethodPost, "/api/pipeline/"+tt.action, "", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
			p.AssertExpectations(t)
		})
	}
}

func TestControl_StartUsesServerContext(t *testing.T) {
	type ctxKey struct{}
	runCtx := context.WithValue(context.Background(), ctxKey{}, "run")

	p := &pipelineMock{}
	p.On("Start", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Value(ctxKey{}) == "run"
	})).Return(nil)

	authSvc, err := service.NewAuthService("", "")
	require.NoError(t, err)
	s := NewServer(runCtx, p, authSvc, service.NewEventBus(), false)
	defer s.Close()

	rec := do(s, http.MethodPost, "/api/pipeline/start", "", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	p.AssertExpectations(t)
}

func TestControl_WrongMethod(t *testing.T) {
	s := newTestServer(t, &pipelineMock{}, false)
	rec := do(s, http.MethodGet, "/api/pipeline/start", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_SecurityHeaders(t *testing.T) {
	s := newTestServer(t, &pipelineMock{}, false)
	rec := do(s, http.MethodGet, "/healthz", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
