package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sitegen/internal/client"
	"sitegen/internal/model"
	"sitegen/internal/service"
	"sitegen/internal/storage"
	"sitegen/internal/workspace"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSites struct {
	chunks     []string
	tokens     int
	streamErr  error
	genErr     error
	refineHTML string
	refineErr  error
}

func (f *fakeSites) Generate(ctx context.Context, req model.BuildRequest) (*model.GenerateResponse, error) {
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &model.GenerateResponse{HTML: strings.Join(f.chunks, ""), TokensUsed: f.tokens, Model: "fake"}, nil
}

func (f *fakeSites) StreamSite(ctx context.Context, req model.BuildRequest) (<-chan model.StreamFrame, <-chan error) {
	frames := make(chan model.StreamFrame, len(f.chunks)+1)
	errs := make(chan error, 1)
	go func() {
		defer close(frames)
		defer close(errs)
		for _, c := range f.chunks {
			frames <- model.StreamFrame{Chunk: c}
		}
		if f.streamErr != nil {
			errs <- f.streamErr
			return
		}
		tokens := f.tokens
		frames <- model.StreamFrame{Done: true, TokensUsed: &tokens}
	}()
	return frames, errs
}

func (f *fakeSites) Refine(ctx context.Context, req model.RefineRequest) (*model.RefineResponse, error) {
	if f.refineErr != nil {
		return nil, f.refineErr
	}
	return &model.RefineResponse{HTML: f.refineHTML}, nil
}

func newRouter(site *SiteHandler, ws *WorkspaceHandler) *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	RegisterRoutes(r, site, ws)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	r := newRouter(NewSiteHandler(&fakeSites{}, 0), nil)
	rec := do(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGenerateEndpoint(t *testing.T) {
	r := newRouter(NewSiteHandler(&fakeSites{chunks: []string{"<html>", "</html>"}, tokens: 5}, 0), nil)

	rec := do(r, http.MethodPost, "/generate", `{"prompt":"bakery","style":"dark"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.GenerateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "<html></html>", resp.HTML)
	assert.Equal(t, 5, resp.TokensUsed)

	rec = do(r, http.MethodPost, "/generate", `{"prompt":"bakery","style":"gothic"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/generate", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateEndpointModelFailure(t *testing.T) {
	r := newRouter(NewSiteHandler(&fakeSites{genErr: errors.New("quota exceeded")}, 0), nil)
	rec := do(r, http.MethodPost, "/generate", `{"prompt":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "quota exceeded")

	r = newRouter(NewSiteHandler(&fakeSites{genErr: fmt.Errorf("%w: bad", service.ErrInvalidInput)}, 0), nil)
	rec = do(r, http.MethodPost, "/generate", `{"prompt":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateStreamEndpoint(t *testing.T) {
	r := newRouter(NewSiteHandler(&fakeSites{chunks: []string{"<html>", "</html>"}, tokens: 7}, 0), nil)

	rec := do(r, http.MethodPost, "/generate/stream", `{"prompt":"bakery"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Equal(t,
		"data: {\"chunk\":\"\\u003chtml\\u003e\"}\n\n"+
			"data: {\"chunk\":\"\\u003c/html\\u003e\"}\n\n"+
			"data: {\"done\":true,\"tokens_used\":7}\n\n",
		body)
}

func TestGenerateStreamFailureOmitsDone(t *testing.T) {
	r := newRouter(NewSiteHandler(&fakeSites{chunks: []string{"<html>"}, streamErr: errors.New("reset")}, 0), nil)

	rec := do(r, http.MethodPost, "/generate/stream", `{"prompt":"bakery"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "done")

	rec = do(r, http.MethodPost, "/generate/stream", `{"prompt":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefineEndpoint(t *testing.T) {
	r := newRouter(NewSiteHandler(&fakeSites{refineHTML: "<html>v2</html>"}, 0), nil)

	rec := do(r, http.MethodPost, "/refine", `{"current_html":"<html>v1</html>","instructions":"blue"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "v2")

	rec = do(r, http.MethodPost, "/refine", `{"current_html":"","instructions":"blue"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// workspaceFixture runs the backend protocol on a real listener and points a
// workspace at it through the HTTP client.
func workspaceFixture(t *testing.T, sites *fakeSites) (*gin.Engine, *workspace.Supervisor, storage.Storage) {
	t.Helper()
	backend := httptest.NewServer(newRouter(NewSiteHandler(sites, 0), nil))
	t.Cleanup(backend.Close)

	sv := workspace.NewSupervisor(client.New(client.Options{BaseURL: backend.URL}))
	store := storage.NewMemoryStorage()
	return newRouter(nil, NewWorkspaceHandler(sv, store, "", 0)), sv, store
}

func waitIdle(t *testing.T, sv *workspace.Supervisor) workspace.Snapshot {
	t.Helper()
	var snap workspace.Snapshot
	require.Eventually(t, func() bool {
		snap = sv.Snapshot()
		return snap.Active == workspace.ActiveNone && snap.State.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestWorkspaceFlow(t *testing.T) {
	sites := &fakeSites{
		chunks:     []string{"<!DOCTYPE html>", "<html>ZenFlow</html>"},
		refineHTML: "<!DOCTYPE html><html class=\"blue\">ZenFlow</html>",
	}
	r, sv, store := workspaceFixture(t, sites)

	rec := do(r, http.MethodGet, "/api/workspace/document", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodPost, "/api/workspace/refine", `{"instructions":"blue"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_document")

	rec = do(r, http.MethodPost, "/api/workspace/generate", `{"prompt":"meditation app ZenFlow","style":"minimalist"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	snap := waitIdle(t, sv)
	assert.Equal(t, workspace.StateCompleted, snap.State)
	assert.Equal(t, "<!DOCTYPE html><html>ZenFlow</html>", snap.Document.HTML)

	rec = do(r, http.MethodGet, "/api/workspace/document", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sandbox allow-scripts", rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "<!DOCTYPE html><html>ZenFlow</html>", rec.Body.String())

	rec = do(r, http.MethodPost, "/api/workspace/refine", `{"instructions":"make the header blue"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blue")
	assert.Contains(t, sv.Document().HTML, `class="blue"`)

	rec = do(r, http.MethodPost, "/api/workspace/export", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "generated-site.html")

	doc, err := store.Load(context.Background(), "generated-site.html")
	require.NoError(t, err)
	assert.Equal(t, sv.Document().HTML, doc.HTML)

	rec = do(r, http.MethodGet, "/api/workspace/exports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "generated-site.html")

	rec = do(r, http.MethodGet, "/api/workspace/exports/generated-site.html", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sandbox allow-scripts", rec.Header().Get("Content-Security-Policy"))

	rec = do(r, http.MethodDelete, "/api/workspace/exports/generated-site.html", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(r, http.MethodGet, "/api/workspace/exports/generated-site.html", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkspaceTruncatedStreamKeepsDocument(t *testing.T) {
	sites := &fakeSites{chunks: []string{"<html>partial"}, streamErr: errors.New("reset")}
	r, sv, _ := workspaceFixture(t, sites)

	rec := do(r, http.MethodPost, "/api/workspace/generate", `{"prompt":"x"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	snap := waitIdle(t, sv)
	assert.Equal(t, workspace.StateErrored, snap.State)
	assert.Equal(t, "stream_truncated", snap.LastErrorKind)
	assert.True(t, snap.Document.Empty())

	rec = do(r, http.MethodPost, "/api/workspace/export", `{"name":"partial"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkspaceValidationAndCancel(t *testing.T) {
	r, _, _ := workspaceFixture(t, &fakeSites{})

	rec := do(r, http.MethodPost, "/api/workspace/generate", `{"prompt":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")

	rec = do(r, http.MethodPost, "/api/workspace/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled": false}`, rec.Body.String())

	rec = do(r, http.MethodGet, "/api/workspace", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active":"none"`)
}

func TestWorkspaceBusy(t *testing.T) {
	// A backend that never finishes its stream.
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer backend.Close()
	defer close(release)

	sv := workspace.NewSupervisor(client.New(client.Options{BaseURL: backend.URL}))
	r := newRouter(nil, NewWorkspaceHandler(sv, storage.NewMemoryStorage(), "", 0))

	rec := do(r, http.MethodPost, "/api/workspace/generate", `{"prompt":"x"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(r, http.MethodPost, "/api/workspace/generate", `{"prompt":"y"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "busy")

	rec = do(r, http.MethodPost, "/api/workspace/cancel", "")
	assert.JSONEq(t, `{"cancelled": true}`, rec.Body.String())

	snap := waitIdle(t, sv)
	assert.Equal(t, workspace.StateCancelled, snap.State)
}

func TestWorkspaceEvents(t *testing.T) {
	sv := workspace.NewSupervisor(client.New(client.Options{BaseURL: "http://127.0.0.1:1"}))
	r := newRouter(nil, NewWorkspaceHandler(sv, storage.NewMemoryStorage(), "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/workspace/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ServeHTTP(rec, req)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events handler did not stop")
	}

	assert.Contains(t, rec.Body.String(), "event: snapshot\ndata: ")
	assert.Contains(t, rec.Body.String(), `"active":"none"`)
}
