package serving

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mpataki/clavier/internal/run"
)

var runUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool, no cross-origin policy to enforce
	},
}

const (
	pushInterval = 2 * time.Second
	logTailLines = 20
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
)

// runProgress is one WebSocket push for a watched run directory.
type runProgress struct {
	Dir          string     `json:"dir"`
	State        *run.State `json:"state"`
	LastLogLines []string   `json:"last_log_lines"`
	Timestamp    time.Time  `json:"timestamp"`
}

// handleRunSocket streams the state record and log tail of one run
// directory every push interval.
//
// Route: GET /ws/runs?dir=<run directory>
func (a *App) handleRunSocket(w http.ResponseWriter, r *http.Request) {
	requestsTotal.WithLabelValues("run_socket").Inc()

	dir := r.URL.Query().Get("dir")
	if dir == "" {
		http.Error(w, "dir query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := runUpgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	a.log.Info("run watcher connected", "dir", dir)
	go a.writePump(conn, dir)
	a.readPump(conn, dir)
}

func (a *App) readPump(conn *websocket.Conn, dir string) {
	defer func() {
		conn.Close()
		a.log.Info("run watcher disconnected", "dir", dir)
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				a.log.Warn("run watcher read error", "err", err)
			}
			return
		}
	}
}

func (a *App) writePump(conn *websocket.Conn, dir string) {
	ticker := time.NewTicker(pushInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	push := func() bool {
		progress := runProgress{
			Dir:          dir,
			LastLogLines: tailLines(run.LogPath(dir), logTailLines),
			Timestamp:    time.Now(),
		}
		if st, err := run.ReadState(dir); err == nil {
			progress.State = st
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(progress) == nil
	}

	if !push() {
		return
	}
	for range ticker.C {
		if !push() {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

// tailLines returns up to n trailing lines of the file, or nil when the
// file is missing.
func tailLines(path string, n int) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
