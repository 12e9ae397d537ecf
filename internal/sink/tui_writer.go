package sink

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"uavnetsim/internal/config"
	"uavnetsim/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a log line for the viewport.
type logMsg struct{ line string }

type telemetryMsg struct{ telemetry.TelemetryRow }

type flowsMsg struct{ rows []telemetry.FlowRow }

// stateMsg carries a station state update.
type stateMsg struct{ telemetry.StationStateRow }

// adminMsg reports admin server status.
type adminMsg struct{ active bool }

const maxLogLines = 1000

// TUIWriter renders delivered telemetry and flow state using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter. Quitting
// the UI interrupts the process.
func NewTUIWriter(cfg *config.Config) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(cfg), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// Write implements TelemetryWriter.
func (w *TUIWriter) Write(row telemetry.TelemetryRow) error {
	line := fmt.Sprintf("%s[%s]%s %sflow=%d%s %suav=%s%s %slat=%.5f%s %slon=%.5f%s %salt=%.1f%s %syaw=%.0f%s %sbatt=%.1f%s %slatency=%.1fms%s %sstatus=%s%s",
		colorGray, row.Timestamp.Format(time.RFC3339), colorReset,
		flowColor(row.FlowID), row.FlowID, colorReset,
		colorWhite, row.VehicleID, colorReset,
		colorGreen, row.Lat, colorReset,
		colorYellow, row.Lon, colorReset,
		colorMagenta, row.Alt, colorReset,
		colorCyan, row.Yaw, colorReset,
		colorCyan, row.Battery, colorReset,
		colorGray, row.LatencyMs, colorReset,
		statusColor(row.Status), row.Status, colorReset,
	)
	w.program.Send(logMsg{line: line})
	w.program.Send(telemetryMsg{row})
	return nil
}

// WriteBatch outputs multiple telemetry rows.
func (w *TUIWriter) WriteBatch(rows []telemetry.TelemetryRow) error {
	for _, r := range rows {
		_ = w.Write(r)
	}
	return nil
}

// WriteFlows implements FlowWriter.
func (w *TUIWriter) WriteFlows(rows []telemetry.FlowRow) error {
	w.program.Send(flowsMsg{rows: append([]telemetry.FlowRow(nil), rows...)})
	return nil
}

// WriteState implements StateWriter.
func (w *TUIWriter) WriteState(row telemetry.StationStateRow) error {
	w.program.Send(stateMsg{StationStateRow: row})
	return nil
}

// SetAdminStatus updates the admin server indicator.
func (w *TUIWriter) SetAdminStatus(active bool) {
	w.program.Send(adminMsg{active: active})
}

// LogWriter returns an io.Writer that shows every written line in the log
// pane, for use as the slog handler output while the TUI owns the terminal.
func (w *TUIWriter) LogWriter() io.Writer { return tuiLog{w} }

type tuiLog struct{ w *TUIWriter }

func (l tuiLog) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		l.w.program.Send(logMsg{line: line})
	}
	return len(p), nil
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	cfg        *config.Config
	table      table.Model
	vp         viewport.Model
	logs       []string
	vehicles   map[string]telemetry.TelemetryRow
	state      telemetry.StationStateRow
	admin      bool
	wrap       bool
	autoscroll bool
	help       bool
	header     string
	height     int
}

func newTUIModel(cfg *config.Config) tuiModel {
	cols := []table.Column{
		{Title: "Flow", Width: 6},
		{Title: "Route", Width: 22},
		{Title: "Delay (us)", Width: 11},
		{Title: "Jitter (us)", Width: 11},
		{Title: "Loss", Width: 8},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(4))
	m := tuiModel{
		cfg:        cfg,
		table:      t,
		vp:         viewport.New(0, 0),
		vehicles:   make(map[string]telemetry.TelemetryRow),
		autoscroll: true,
	}
	m.header = m.renderHeader()
	return m
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width / 2)
		m.vp.Width = msg.Width
		m.height = msg.Height
		m.header = m.renderHeader()
		m.updateViewportHeight()
		m.refreshViewport()
	case tea.KeyMsg:
		if m.help {
			switch msg.String() {
			case "?", "h", "esc":
				m.help = false
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
			return m, nil
		case "h", "?":
			m.help = true
			return m, nil
		}
		if !m.autoscroll {
			switch msg.String() {
			case "j", "down":
				m.vp.LineDown(1)
			case "k", "up":
				m.vp.LineUp(1)
			case "pgdown", "ctrl+n":
				m.vp.LineDown(10)
			case "pgup", "ctrl+p":
				m.vp.LineUp(10)
			default:
				var cmd tea.Cmd
				m.vp, cmd = m.vp.Update(msg)
				return m, cmd
			}
		}
		return m, nil
	case logMsg:
		m.logs = append(m.logs, msg.line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		m.refreshViewport()
	case telemetryMsg:
		m.vehicles[msg.VehicleID] = msg.TelemetryRow
		m.header = m.renderHeader()
		m.updateViewportHeight()
	case flowsMsg:
		rows := make([]table.Row, 0, len(msg.rows))
		for _, f := range msg.rows {
			rows = append(rows, table.Row{
				fmt.Sprintf("%d", f.FlowID),
				f.Source + " -> " + f.Dest,
				fmt.Sprintf("%.0f", f.MeanDelay),
				fmt.Sprintf("%.0f", f.MeanJitter),
				fmt.Sprintf("%.4f", f.LossProb),
			})
		}
		m.table.SetRows(rows)
		m.table.SetHeight(len(rows) + 1)
		m.header = m.renderHeader()
		m.updateViewportHeight()
	case stateMsg:
		m.state = msg.StationStateRow
	case adminMsg:
		m.admin = msg.active
	}
	return m, nil
}

func (m *tuiModel) updateViewportHeight() {
	h := m.height - lipgloss.Height(m.header) - lipgloss.Height(m.renderBottom()) - 2
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	lines := m.logs
	if m.wrap && m.vp.Width > 0 {
		lines = make([]string, len(m.logs))
		for i, l := range m.logs {
			lines[i] = wordwrap.String(l, m.vp.Width)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.vp.Width)
	return strings.Join([]string{m.header, divider, m.vp.View(), divider, m.renderBottom()}, "\n")
}

func (m tuiModel) renderHeader() string {
	sep := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("│")
	return lipgloss.JoinHorizontal(lipgloss.Top, m.table.View(), sep, m.renderVehicles())
}

func (m tuiModel) renderVehicles() string {
	var b strings.Builder
	b.WriteString("Vehicles\n")
	ids := make([]string, 0, len(m.vehicles))
	for id := range m.vehicles {
		ids = append(ids, id)
	}
	if len(ids) == 0 && m.cfg != nil {
		for _, v := range m.cfg.Vehicles {
			ids = append(ids, v.Name)
		}
	}
	sort.Strings(ids)
	for i, id := range ids {
		prefix := "├─"
		if i == len(ids)-1 {
			prefix = "└─"
		}
		row, ok := m.vehicles[id]
		if !ok {
			fmt.Fprintf(&b, "%s %s waiting\n", prefix, id)
			continue
		}
		fmt.Fprintf(&b, "%s %s%s%s alt=%.1f batt=%.0f %s%s%s\n", prefix,
			flowColor(row.FlowID), id, colorReset, row.Alt, row.Battery,
			statusColor(row.Status), row.Status, colorReset)
	}
	return strings.TrimRight(b.String(), "\n")
}

func indicator(on bool) string {
	c := lipgloss.Color("9")
	if on {
		c = lipgloss.Color("10")
	}
	return lipgloss.NewStyle().Foreground(c).Render("●")
}

func (m tuiModel) renderBottom() string {
	state := fmt.Sprintf("%sSTATE%s %sflows=%d%s %spending=%d/%d/%d%s %sdelivered=%d%s %slost=%d%s %ssent=%d%s %sdropped=%d%s",
		colorBlue, colorReset,
		colorCyan, m.state.Flows, colorReset,
		colorYellow, m.state.PendingTelemetry, m.state.PendingCommands, m.state.PendingFrames, colorReset,
		colorGreen, m.state.Delivered, colorReset,
		colorRed, m.state.Lost, colorReset,
		colorMagenta, m.state.MessagesSent, colorReset,
		colorGray, m.state.MessagesDropped, colorReset)
	return fmt.Sprintf("%s | Peer %s | Admin %s | Wrap %s | Scroll %s | Help ?",
		state, indicator(m.state.PeerReachable), indicator(m.admin), indicator(m.wrap), indicator(m.autoscroll))
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		"Key Bindings:",
		" q  quit",
		" w  toggle line wrap",
		" s  toggle auto-scroll",
		" h/? toggle this help view",
		"",
		"When auto-scroll is disabled:",
		" j/k or up/down    scroll one line",
		" pgdown/pgup       scroll a page",
	}
	return strings.Join(lines, "\n")
}
