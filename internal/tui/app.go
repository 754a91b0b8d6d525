package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/clavier/internal/run"
	"github.com/mpataki/clavier/internal/storage"
)

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
	ViewLog
)

type App struct {
	registry *storage.Registry

	view        View
	runs        []*storage.RunInfo
	selectedIdx int

	selected    *storage.RunInfo
	state       *run.State
	checkpoints []*storage.Checkpoint
	bar         progress.Model
	logView     viewport.Model

	width  int
	height int
	err    error
}

func NewApp(registry *storage.Registry) *App {
	return &App{
		registry: registry,
		view:     ViewRunList,
		bar:      progress.New(progress.WithDefaultGradient()),
		logView:  viewport.New(80, 20),
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadRuns, a.tickCmd())
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) hasRunningRuns() bool {
	for _, info := range a.runs {
		if info.Status == string(run.StatusRunning) {
			return true
		}
	}
	return false
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.bar.Width = msg.Width - 8
		a.logView.Width = msg.Width - 2
		a.logView.Height = msg.Height - 5
		return a, nil

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		return a, nil

	case tickMsg:
		// Keep refreshing while something is training.
		if a.view == ViewRunList && a.hasRunningRuns() {
			return a, tea.Batch(a.loadRuns, a.tickCmd())
		}
		if a.view == ViewRunDetail && a.selected != nil {
			return a, tea.Batch(a.loadDetail(a.selected), a.tickCmd())
		}
		return a, a.tickCmd()

	case detailLoadedMsg:
		a.selected = msg.info
		a.state = msg.state
		a.checkpoints = msg.checkpoints
		a.err = msg.err
		if a.err == nil {
			a.view = ViewRunDetail
		}
		return a, nil

	case logLoadedMsg:
		if msg.err != nil {
			a.err = msg.err
		} else {
			a.logView.SetContent(msg.content)
			a.logView.GotoBottom()
			a.view = ViewLog
		}
		return a, nil
	}

	if a.view == ViewLog {
		var cmd tea.Cmd
		a.logView, cmd = a.logView.Update(msg)
		return a, cmd
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	case ViewLog:
		return a.handleLogKey(msg)
	}
	return a, nil
}

func (a *App) handleRunListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.loadDetail(a.runs[a.selectedIdx])
		}

	case "r":
		return a, a.loadRuns
	}

	return a, nil
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList
		a.selected = nil
		a.state = nil
		a.checkpoints = nil

	case "ctrl+c":
		return a, tea.Quit

	case "l", "o":
		if a.selected != nil {
			return a, a.loadLog(a.selected.Dir)
		}
	}

	return a, nil
}

func (a *App) handleLogKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunDetail

	case "ctrl+c":
		return a, tea.Quit
	}

	var cmd tea.Cmd
	a.logView, cmd = a.logView.Update(msg)
	return a, cmd
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	case ViewLog:
		return a.viewLog()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("Clavier") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.runs) == 0 {
		s += "No runs yet. Start one with `clavier run <dir>`.\n"
	} else {
		s += "Known Runs\n"
		s += "──────────\n"

		for i, info := range a.runs {
			line := a.formatRunLine(info)
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else if info.Status != string(run.StatusRunning) {
				line = "  " + dimStyle.Render(line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [r] refresh  [q] quit")

	return s
}

func (a *App) formatRunLine(info *storage.RunInfo) string {
	return fmt.Sprintf("%-40s gen %-3d %s  %s",
		truncate(info.Dir, 40), info.RunIndex, a.formatStatus(info.Status), formatAge(info.UpdatedAt))
}

func (a *App) formatStatus(status string) string {
	switch status {
	case string(run.StatusRunning):
		return statusRunning.Render("● running")
	case string(run.StatusCompleted):
		return statusCompleted.Render("✓ completed")
	case string(run.StatusFailed):
		return statusFailed.Render("✗ failed")
	default:
		return status
	}
}

func (a *App) viewRunDetail() string {
	if a.selected == nil {
		return "No run selected"
	}

	s := titleStyle.Render(filepath.Base(a.selected.Dir)) + "  " + a.formatStatus(a.selected.Status) + "\n\n"
	s += labelStyle.Render("Directory: ") + dimStyle.Render(a.selected.Dir) + "\n"

	// The registry row can lag; state.json in the directory is the truth.
	if a.state != nil {
		s += labelStyle.Render("Run index: ") + fmt.Sprintf("%d", a.state.RunIndex) +
			"  " + labelStyle.Render("Status: ") + string(a.state.Status) + "\n"
	}

	if len(a.checkpoints) > 0 {
		latest := a.checkpoints[len(a.checkpoints)-1]
		s += "\nProgress (gen " + fmt.Sprintf("%d", latest.RunIndex) + ")\n"
		if latest.TotalBatches > 0 {
			s += a.bar.ViewAs(float64(latest.Batch)/float64(latest.TotalBatches)) + "\n"
		}
		s += dimStyle.Render(fmt.Sprintf("batch %d/%d  loss %.5f", latest.Batch, latest.TotalBatches, latest.Loss)) + "\n"

		s += "\nCheckpoints\n"
		s += "───────────\n"
		start := 0
		if len(a.checkpoints) > 8 {
			start = len(a.checkpoints) - 8
		}
		for _, cp := range a.checkpoints[start:] {
			s += fmt.Sprintf("  gen %d  batch %-6d loss %.5f  %s\n",
				cp.RunIndex, cp.Batch, cp.Loss, dimStyle.Render(formatAge(cp.CreatedAt)))
		}
	} else {
		s += "\n(no checkpoints recorded yet)\n"
	}

	s += "\n" + helpStyle.Render("[l] log  [esc] back  [q] quit")

	return s
}

func (a *App) viewLog() string {
	s := titleStyle.Render("Output") + "\n"
	s += a.logView.View() + "\n"
	s += helpStyle.Render("[↑/↓] scroll  [esc] back  [q] quit")
	return s
}

// Messages

type runsLoadedMsg struct {
	runs []*storage.RunInfo
	err  error
}

type detailLoadedMsg struct {
	info        *storage.RunInfo
	state       *run.State
	checkpoints []*storage.Checkpoint
	err         error
}

type logLoadedMsg struct {
	content string
	err     error
}

// Commands

func (a *App) loadRuns() tea.Msg {
	runs, err := a.registry.List()
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) loadDetail(info *storage.RunInfo) tea.Cmd {
	return func() tea.Msg {
		cps, err := a.registry.CheckpointsFor(info.Dir)
		if err != nil {
			return detailLoadedMsg{err: err}
		}

		// state.json may be missing for a run that never checkpointed.
		st, _ := run.ReadState(info.Dir)
		return detailLoadedMsg{info: info, state: st, checkpoints: cps}
	}
}

func (a *App) loadLog(dir string) tea.Cmd {
	return func() tea.Msg {
		data, err := os.ReadFile(run.LogPath(dir))
		if err != nil {
			return logLoadedMsg{err: fmt.Errorf("no output log: %w", err)}
		}
		return logLoadedMsg{content: strings.TrimRight(string(data), "\n")}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen+3:]
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
