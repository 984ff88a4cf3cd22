package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruva-antino/live-drm/internal/drm"
	"github.com/dhruva-antino/live-drm/internal/process"
)

func newTestRouter(t *testing.T, keys KeyRequester) (*chi.Mux, *testEnv) {
	t.Helper()
	env := newTestEnv(t, keys)
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	r := chi.NewRouter()
	NewHandler(env.reg, log).Routes(r)
	return r, env
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func createStream(t *testing.T, r http.Handler, port int) Connection {
	t.Helper()
	rec := do(r, http.MethodPost, fmt.Sprintf("/streams?port=%d&key=abc", port), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var conn Connection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conn))
	return conn
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Message
}

func TestHandler_Create(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	conn := createStream(t, r, 39101)
	assert.Contains(t, conn.IngestURL, "39101")
	assert.Contains(t, conn.PushURL, "streamid=abc")

	rec := do(r, http.MethodGet, "/streams/"+conn.StreamID+"/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Status: created", message(t, rec))
}

func TestHandler_Create_bad_query(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/streams?port=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/streams?port=39102&protocol=hls", "").Code)
}

func TestHandler_unknown_stream(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := do(r, http.MethodGet, "/streams/nope/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Stream not found", message(t, rec))

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/streams/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/streams/nope/stop", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/streams/nope", "").Code)
}

func TestHandler_Start(t *testing.T) {
	r, env := newTestRouter(t, nil)
	conn := createStream(t, r, 39103)
	path := "/streams/" + conn.StreamID

	rec := do(r, http.MethodPost, path+"/start", `{"resolutions":"720p"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, path+"/start", `{"resolutions":[{"width":1280,"height":0}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, path+"/start", `{"format":"smooth"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, path+"/start", `{"resolutions":[{"width":1280,"height":720,"bitrate":"3M"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, StatusListening, snap.Status)
	require.Len(t, snap.Renditions, 1)
	assert.Equal(t, "3M", snap.Renditions[0].VideoBitrate)
	env.nextLaunch(t, process.RoleTranscoder)

	rec = do(r, http.MethodPost, path+"/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(r, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(r, http.MethodPost, path+"/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Stream "+conn.StreamID+" stopped", message(t, rec))

	env.waitDone(t, conn.StreamID)
	rec = do(r, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandler_StartDRM_errors(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	conn := createStream(t, r, 39104)

	rec := do(r, http.MethodPost, "/streams/"+conn.StreamID+"/start-drm", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	keys := goodKeys()
	keys.err = fmt.Errorf("%w: connection refused", drm.ErrKeyExchange)
	r, _ = newTestRouter(t, keys)
	conn = createStream(t, r, 39105)

	rec = do(r, http.MethodPost, "/streams/"+conn.StreamID+"/start-drm", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "connection refused")
}

func TestHandler_Simulate_requires_running_stream(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	conn := createStream(t, r, 39106)
	input := t.TempDir() + "/in.mp4"
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))

	rec := do(r, http.MethodPost, "/streams/"+conn.StreamID+"/simulate", `{"inputPath":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/streams/"+conn.StreamID+"/simulate", `{"inputPath":"`+input+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_List(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	createStream(t, r, 39107)
	createStream(t, r, 39108)

	rec := do(r, http.MethodGet, "/streams", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", ErrNotFound), http.StatusNotFound},
		{ErrInvalidTransition, http.StatusConflict},
		{ErrSessionActive, http.StatusConflict},
		{drm.ErrConfiguration, http.StatusInternalServerError},
		{drm.ErrSigning, http.StatusBadGateway},
		{process.ErrSpawn, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
