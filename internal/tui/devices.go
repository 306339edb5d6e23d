package tui

import (
	"fmt"
	"strings"

	"pulse/internal/sonify"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)
)

// DeviceListModel lists output devices for sonification and lets the user
// pick one.
type DeviceListModel struct {
	devices       []sonify.Device
	selectedIndex int
	chosen        int
	viewport      viewport.Model
	ready         bool
	err           error
	fetch         func() ([]sonify.Device, error)
}

type devicesMsg struct {
	devices []sonify.Device
}

type errMsg struct {
	err error
}

// NewDeviceListModel creates a model that enumerates devices with fetch.
func NewDeviceListModel(fetch func() ([]sonify.Device, error)) DeviceListModel {
	return DeviceListModel{chosen: sonify.DefaultDeviceID, fetch: fetch}
}

func (m DeviceListModel) Init() tea.Cmd {
	return func() tea.Msg {
		devices, err := m.fetch()
		if err != nil {
			return errMsg{err}
		}
		// Only devices that can play the tone are listed.
		outputs := devices[:0:0]
		for _, d := range devices {
			if d.MaxOutputChannels > 0 {
				outputs = append(outputs, d)
			}
		}
		return devicesMsg{outputs}
	}
}

// Chosen returns the selected device ID, or sonify.DefaultDeviceID when the
// user quit without choosing.
func (m DeviceListModel) Chosen() int {
	return m.chosen
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.viewport.SetContent(m.renderDevices())

	case devicesMsg:
		m.devices = msg.devices
		if m.ready {
			m.viewport.SetContent(m.renderDevices())
		}

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, key.NewBinding(key.WithKeys("up", "k"))):
			if m.selectedIndex > 0 {
				m.selectedIndex--
				m.viewport.SetContent(m.renderDevices())
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("down", "j"))):
			if m.selectedIndex < len(m.devices)-1 {
				m.selectedIndex++
				m.viewport.SetContent(m.renderDevices())
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("enter"))):
			if len(m.devices) > 0 {
				m.chosen = m.devices[m.selectedIndex].ID
				return m, tea.Quit
			}
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m DeviceListModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}
	if !m.ready {
		return "Initializing..."
	}

	title := titleStyle.Render("Sonification Output")
	help := infoStyle.Render("↑/↓: Navigate • Enter: Select • q: Quit")
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No output devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		info := fmt.Sprintf("[%d] %s (%s)\n", device.ID, device.Name, device.Kind())
		info += fmt.Sprintf("    Output channels: %d, Default sample rate: %.0f Hz\n",
			device.MaxOutputChannels, device.DefaultSampleRate)
		if i == m.selectedIndex {
			info = highlightStyle.Render(info)
		}
		sb.WriteString(info)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ChooseOutputDevice runs the picker and returns the chosen device ID.
func ChooseOutputDevice() (int, error) {
	final, err := tea.NewProgram(NewDeviceListModel(sonify.GetDevices), tea.WithAltScreen()).Run()
	if err != nil {
		return sonify.DefaultDeviceID, err
	}
	return final.(DeviceListModel).Chosen(), nil
}
