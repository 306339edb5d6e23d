package tui

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"pulse/internal/engine"
	"pulse/internal/filter"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	refreshInterval = 100 * time.Millisecond
	cutoffStep      = 0.1
	alphaStep       = 1.25
)

// Controller is the part of the engine the monitor drives.
type Controller interface {
	Latest() engine.Frame
	ToggleFilter(stage filter.Stage) bool
	NudgePassband(stage filter.Stage, delta float64) error
	SetAlpha(alpha float64)
	Alpha() float64
	SetTone(on bool) error
	Reset()
}

type keyMap struct {
	HighPass, LowPass  key.Binding
	LowDown, LowUp     key.Binding
	HighDown, HighUp   key.Binding
	AlphaDown, AlphaUp key.Binding
	Tone, Reset, Quit  key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.HighPass, k.LowPass, k.LowDown, k.HighDown, k.AlphaUp, k.Tone, k.Reset, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.HighPass, k.LowPass},
		{k.LowDown, k.LowUp, k.HighDown, k.HighUp},
		{k.AlphaDown, k.AlphaUp, k.Tone, k.Reset, k.Quit},
	}
}

var keys = keyMap{
	HighPass:  key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "high-pass")),
	LowPass:   key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "low-pass")),
	LowDown:   key.NewBinding(key.WithKeys("["), key.WithHelp("[/]", "low cutoff")),
	LowUp:     key.NewBinding(key.WithKeys("]")),
	HighDown:  key.NewBinding(key.WithKeys("{"), key.WithHelp("{/}", "high cutoff")),
	HighUp:    key.NewBinding(key.WithKeys("}")),
	AlphaDown: key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "alpha")),
	AlphaUp:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "alpha")),
	Tone:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sonify")),
	Reset:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9E9E9E"))
	bpmStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5"))
	waveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f44336"))
)

type refreshMsg time.Time

// MonitorModel is the bubbletea model of the live monitor.
type MonitorModel struct {
	ctl   Controller
	frame engine.Frame
	wave  []float64 // latest filtered series, frames carry it intermittently
	help  help.Model
	width int
	tone  bool
	err   error
}

func NewMonitorModel(ctl Controller) MonitorModel {
	m := MonitorModel{ctl: ctl, help: help.New(), width: 80}
	m.setFrame(ctl.Latest())
	return m
}

func (m *MonitorModel) setFrame(f engine.Frame) {
	m.frame = f
	if len(f.FilteredSeries) > 0 {
		m.wave = f.FilteredSeries
	}
	if !f.Initialized {
		m.wave = nil
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m MonitorModel) Init() tea.Cmd {
	return refresh()
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case refreshMsg:
		m.setFrame(m.ctl.Latest())
		return m, refresh()

	case tea.KeyMsg:
		m.err = nil
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.HighPass):
			m.ctl.ToggleFilter(filter.HighPass)
		case key.Matches(msg, keys.LowPass):
			m.ctl.ToggleFilter(filter.LowPass)
		case key.Matches(msg, keys.LowDown):
			m.err = m.ctl.NudgePassband(filter.HighPass, -cutoffStep)
		case key.Matches(msg, keys.LowUp):
			m.err = m.ctl.NudgePassband(filter.HighPass, cutoffStep)
		case key.Matches(msg, keys.HighDown):
			m.err = m.ctl.NudgePassband(filter.LowPass, -cutoffStep)
		case key.Matches(msg, keys.HighUp):
			m.err = m.ctl.NudgePassband(filter.LowPass, cutoffStep)
		case key.Matches(msg, keys.AlphaDown):
			m.ctl.SetAlpha(m.ctl.Alpha() / alphaStep)
		case key.Matches(msg, keys.AlphaUp):
			m.ctl.SetAlpha(max(1, m.ctl.Alpha()*alphaStep))
		case key.Matches(msg, keys.Tone):
			if err := m.ctl.SetTone(!m.tone); err != nil {
				m.err = err
			} else {
				m.tone = !m.tone
			}
		case key.Matches(msg, keys.Reset):
			m.ctl.Reset()
		}
		m.setFrame(m.ctl.Latest())
	}
	return m, nil
}

func (m MonitorModel) View() string {
	f := m.frame
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Pulse Monitor"))
	sb.WriteString("\n\n")

	quality := lipgloss.NewStyle().Foreground(lipgloss.Color(f.QualityColor)).Render(f.Quality.String())
	bpm := "--"
	if f.BPM > 0 {
		bpm = fmt.Sprintf("%.0f", f.BPM)
	}
	fmt.Fprintf(&sb, "%s %s   %s %s   %s %.1f\n",
		labelStyle.Render("BPM"), bpmStyle.Render(bpm),
		labelStyle.Render("Quality"), quality,
		labelStyle.Render("Ratio"), f.Ratio)

	fmt.Fprintf(&sb, "%s %.2f-%.2f Hz  HP %s  LP %s   %s %.0f   %s %d\n",
		labelStyle.Render("Passband"), f.LowCutoff, f.HighCutoff, onOff(f.HighPass), onOff(f.LowPass),
		labelStyle.Render("Alpha"), f.Alpha, labelStyle.Render("FPS"), f.FPS)

	if !f.Initialized {
		sb.WriteString("\nWaiting for samples...\n")
	} else if len(m.wave) > 0 {
		sb.WriteString("\n")
		sb.WriteString(waveStyle.Render(Sparkline(m.wave, max(10, m.width-2))))
		sb.WriteString("\n")
	}

	if m.err != nil {
		sb.WriteString("\n")
		sb.WriteString(errStyle.Render(m.err.Error()))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(m.help.View(keys))
	return sb.String()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the last width samples of series scaled to their range.
func Sparkline(series []float64, width int) string {
	if width <= 0 || len(series) == 0 {
		return ""
	}
	if len(series) > width {
		series = series[len(series)-width:]
	}

	lo, hi := series[0], series[0]
	for _, v := range series {
		lo, hi = min(lo, v), max(hi, v)
	}

	out := make([]rune, len(series))
	for i, v := range series {
		level := 0
		if hi > lo {
			level = int(math.Round((v - lo) / (hi - lo) * float64(len(sparkRunes)-1)))
		}
		out[i] = sparkRunes[level]
	}
	return string(out)
}

// RunMonitor blocks until the user quits.
func RunMonitor(ctl Controller) error {
	_, err := tea.NewProgram(NewMonitorModel(ctl), tea.WithAltScreen()).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
