package serving

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/clavier/internal/run"
)

func TestTailLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd\n"), 0644))

	assert.Equal(t, []string{"c", "d"}, tailLines(path, 2))
	assert.Equal(t, []string{"a", "b", "c", "d"}, tailLines(path, 10))
	assert.Nil(t, tailLines(filepath.Join(t.TempDir(), "missing"), 2))
}

func TestRunSocketRequiresDir(t *testing.T) {
	app, _ := testApp(t)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/runs", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunSocketPushesProgress(t *testing.T) {
	app, _ := testApp(t)

	runDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "state.json"), []byte(`{"run_index":2,"status":"running"}`), 0644))
	require.NoError(t, os.WriteFile(run.LogPath(runDir), []byte("line one\nline two\n"), 0644))

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/runs?dir=" + runDir
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var progress runProgress
	require.NoError(t, conn.ReadJSON(&progress))

	assert.Equal(t, runDir, progress.Dir)
	require.NotNil(t, progress.State)
	assert.Equal(t, 2, progress.State.RunIndex)
	assert.Equal(t, run.StatusRunning, progress.State.Status)
	assert.Equal(t, []string{"line one", "line two"}, progress.LastLogLines)
}
