// Package serving exposes the HTTP surface: liveness, performance download,
// performance generation from a seed MIDI file, Prometheus metrics, and a
// live run-progress WebSocket.
package serving

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mpataki/clavier/internal/dirs"
	"github.com/mpataki/clavier/internal/model"
	"github.com/mpataki/clavier/internal/perform"
	"github.com/mpataki/clavier/internal/pianoroll"
)

// defaultMinKey crops generation to the standard 88-key piano window
// starting at A0.
const defaultMinKey = 21

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clavier",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by endpoint.",
	}, []string{"endpoint"})

	generateSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "clavier",
		Name:      "performance_generation_seconds",
		Help:      "Wall time spent generating one performance.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)

type App struct {
	cfg *dirs.Config
	log *slog.Logger
}

func NewApp(cfg *dirs.Config, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{cfg: cfg, log: log}
}

func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", a.handleAlive)
	mux.HandleFunc("/performances/", a.handleGetPerformance)
	mux.HandleFunc("/create-performance", a.handleCreatePerformance)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/runs", a.handleRunSocket)
	return mux
}

// envelope is the response shape every JSON endpoint uses.
type envelope struct {
	HTTPCode     int    `json:"http_code"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	MidiFileName string `json:"midi_file_name,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, e envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPCode)
	json.NewEncoder(w).Encode(e)
}

func (a *App) handleAlive(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	requestsTotal.WithLabelValues("alive").Inc()
	fmt.Fprint(w, "OK")
}

// secureFilename strips anything that could escape the performances
// directory, leaving only the base name.
func secureFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	return name
}

// randomMidiFileName returns a file name that will not ever collide.
func randomMidiFileName() string {
	return strconv.FormatUint(rand.Uint64(), 10) + ".midi"
}

func (a *App) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	requestsTotal.WithLabelValues("get_performance").Inc()

	name := secureFilename(r.URL.Query().Get("midi_file_name"))
	if name == "" || name == "." {
		writeEnvelope(w, envelope{HTTPCode: http.StatusBadRequest, Code: "BadRequest", Message: "midi_file_name not found in request."})
		return
	}

	path := filepath.Join(a.cfg.PerformancesDir(), name)
	if _, err := os.Stat(path); err != nil {
		writeEnvelope(w, envelope{HTTPCode: http.StatusNotFound, Code: "Not Found", Message: "midi_file " + name + " not found."})
		return
	}

	w.Header().Set("Content-Type", "audio/midi")
	http.ServeFile(w, r, path)
}

func (a *App) handleCreatePerformance(w http.ResponseWriter, r *http.Request) {
	requestsTotal.WithLabelValues("create_performance").Inc()

	if r.Method != http.MethodPost {
		writeEnvelope(w, envelope{HTTPCode: http.StatusMethodNotAllowed, Code: "BadRequest", Message: "POST required."})
		return
	}

	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeEnvelope(w, envelope{HTTPCode: http.StatusBadRequest, Code: "BadRequest", Message: "invalid multipart form."})
		return
	}

	file, _, err := r.FormFile("seed_midi_file")
	if err != nil {
		writeEnvelope(w, envelope{HTTPCode: http.StatusBadRequest, Code: "BadRequest", Message: "seed_midi_file not found in request."})
		return
	}
	defer file.Close()

	secondsStr := r.FormValue("seconds_to_generate")
	if secondsStr == "" {
		writeEnvelope(w, envelope{HTTPCode: http.StatusBadRequest, Code: "BadRequest", Message: "seconds_to_generate not found in request."})
		return
	}
	seconds, err := strconv.ParseFloat(secondsStr, 64)
	if err != nil || seconds <= 0 {
		writeEnvelope(w, envelope{HTTPCode: http.StatusBadRequest, Code: "BadRequest", Message: "seconds_to_generate must be a positive number."})
		return
	}

	complexity := r.FormValue("model_complexity")
	if complexity == "" {
		complexity = "low"
	}
	modelPath := filepath.Join(a.cfg.ModelsDir(), complexity+".model")
	if _, err := os.Stat(modelPath); err != nil {
		writeEnvelope(w, envelope{HTTPCode: http.StatusBadRequest, Code: "BadRequest", Message: "no model available for complexity " + complexity + "."})
		return
	}

	// Persist the seed so a generation can be reproduced later.
	seedPath := filepath.Join(a.cfg.SeedsDir(), randomMidiFileName())
	seedFile, err := os.Create(seedPath)
	if err != nil {
		a.serverError(w, "failed to store seed", err)
		return
	}
	if _, err := seedFile.ReadFrom(file); err != nil {
		seedFile.Close()
		a.serverError(w, "failed to store seed", err)
		return
	}
	seedFile.Close()

	seed, err := pianoroll.ReadSMF(seedPath)
	if err != nil {
		writeEnvelope(w, envelope{HTTPCode: http.StatusBadRequest, Code: "BadRequest", Message: "seed_midi_file is not a readable MIDI file."})
		return
	}

	m, err := model.Load(modelPath)
	if err != nil {
		a.serverError(w, "failed to load model", err)
		return
	}

	start := time.Now()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	roll, err := perform.Generate(m, seed, perform.SecondsToSteps(seconds), defaultMinKey, rng)
	if err != nil {
		a.serverError(w, "generation failed", err)
		return
	}
	generateSeconds.Observe(time.Since(start).Seconds())

	name := randomMidiFileName()
	if err := roll.WriteSMF(filepath.Join(a.cfg.PerformancesDir(), name)); err != nil {
		a.serverError(w, "failed to save performance", err)
		return
	}

	a.log.Info("performance generated", "midi_file_name", name, "seconds", seconds, "complexity", complexity)
	writeEnvelope(w, envelope{HTTPCode: http.StatusOK, Code: "Success", Message: "", MidiFileName: name})
}

func (a *App) serverError(w http.ResponseWriter, msg string, err error) {
	a.log.Error(msg, "err", err)
	writeEnvelope(w, envelope{HTTPCode: http.StatusInternalServerError, Code: "InternalError", Message: msg + "."})
}
