package tui

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/kasalink/internal/device"
	"github.com/muurk/kasalink/internal/discovery"
	"github.com/muurk/kasalink/internal/registry"
	"github.com/muurk/kasalink/internal/transport"
)

// Messages for async operations
type scanStartMsg struct{}
type scanCompleteMsg struct {
	devices []*discovery.Descriptor
	err     error
}
type toggleDoneMsg struct {
	endpoint transport.Endpoint
	refresh  *discovery.Descriptor
	err      error
}

// dashboardKeyMap defines key bindings for the device list screen
type dashboardKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Toggle key.Binding
	Rescan key.Binding
	Manual key.Binding
	Quit   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k dashboardKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Toggle, k.Rescan, k.Manual, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k dashboardKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle},
		{k.Rescan, k.Manual, k.Quit},
	}
}

// manualModeKeyMap defines key bindings for manual address entry mode
type manualModeKeyMap struct {
	Confirm key.Binding
	Cancel  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (m manualModeKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{m.Confirm, m.Cancel}
}

// FullHelp returns keybindings for the expanded help view
func (m manualModeKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{m.Confirm, m.Cancel},
	}
}

// scanningKeyMap defines key bindings while a scan is running
type scanningKeyMap struct {
	Manual key.Binding
	Quit   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (s scanningKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{s.Manual, s.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (s scanningKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{s.Manual, s.Quit},
	}
}

// deviceItem wraps a Descriptor for use with bubbles/list
type deviceItem struct {
	desc *discovery.Descriptor
}

// FilterValue lets the list filter by alias, model, or address
func (d deviceItem) FilterValue() string {
	model := ""
	if d.desc.Info != nil {
		model = d.desc.Info.Model
	}
	return d.desc.Alias() + " " + model + " " + d.desc.Endpoint.Addr()
}

// Title returns the device name for list display
func (d deviceItem) Title() string {
	return d.desc.Alias()
}

// Description returns device details for list display
func (d deviceItem) Description() string {
	return fmt.Sprintf("%s • %s", d.desc.Variant, d.desc.Endpoint.Addr())
}

// powerState reports whether the device's output is on. Plugs carry
// relay_state, bulbs carry light_state.on_off; ok is false when the
// status has neither.
func powerState(d *discovery.Descriptor) (on, ok bool) {
	if d.Info == nil {
		return false, false
	}
	if d.Info.RelayState != nil {
		return *d.Info.RelayState != 0, true
	}
	if d.Info.LightState != nil {
		return d.Info.LightState.OnOff != 0, true
	}
	return false, false
}

// relayLabel renders the device's power state for display
func relayLabel(d *discovery.Descriptor) string {
	on, ok := powerState(d)
	switch {
	case !ok:
		return OffStyle.Render("—")
	case on:
		return OnStyle.Render("ON")
	default:
		return OffStyle.Render("OFF")
	}
}

// deviceDelegate is a custom list delegate rendering device cards
type deviceDelegate struct {
	width int
}

func (d deviceDelegate) Height() int { return 7 }

func (d deviceDelegate) Spacing() int { return 1 }

func (d deviceDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d deviceDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	di, ok := item.(deviceItem)
	if !ok {
		return
	}

	desc := di.desc
	selected := index == m.Index()

	model := "unknown"
	if desc.Info != nil && desc.Info.Model != "" {
		model = desc.Info.Model
	}

	var content strings.Builder
	if selected {
		content.WriteString(SelectedItemStyle.Render("→ " + desc.Alias()))
	} else {
		content.WriteString("  " + desc.Alias())
	}
	content.WriteString("\n\n")
	content.WriteString(fmt.Sprintf("  Type:    %s\n", desc.Variant))
	content.WriteString(fmt.Sprintf("  Model:   %s\n", model))
	content.WriteString(fmt.Sprintf("  Address: %s\n", desc.Endpoint.Addr()))
	content.WriteString(fmt.Sprintf("  Power:   %s", relayLabel(desc)))

	cardStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(BorderColor).
		Padding(0, 2).
		MarginLeft(2)

	cardWidth := d.width - 6
	if cardWidth < MinTerminalWidth-6 {
		cardWidth = MinTerminalWidth - 6
	}
	if cardWidth > MaxContentWidth-6 {
		cardWidth = MaxContentWidth - 6
	}
	cardStyle = cardStyle.Width(cardWidth)

	if selected {
		cardStyle = cardStyle.BorderForeground(HighlightColor)
	}

	fmt.Fprint(w, cardStyle.Render(content.String()))
}

// Model is the dashboard screen: scan, list, and switch devices
type Model struct {
	// Command path for relay toggles and refreshes
	Querier device.Querier

	// Discovery parameters for scans triggered from the dashboard
	ScanOptions discovery.Options

	// Discovery state
	Scanning   bool
	DeviceList list.Model
	Err        error

	// Manual address entry state
	ManualMode bool
	AddrInput  textinput.Model

	// Endpoints with a toggle in flight, keyed by endpoint
	busy map[string]bool

	// UI state
	Width         int
	Height        int
	Spinner       spinner.Model
	ProgressBar   progress.Model
	ScanStartTime time.Time
	Help          help.Model
	Keys          dashboardKeyMap
	ManualKeys    manualModeKeyMap
	ScanningKeys  scanningKeyMap
}

// New creates the dashboard model. The querier carries relay toggles;
// scans run with the supplied discovery options.
func New(q device.Querier, scanOpts discovery.Options) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	addrInput := textinput.New()
	addrInput.Placeholder = "192.168.1.40"
	addrInput.CharLimit = 21 // host:port
	addrInput.Width = 30

	progressBar := progress.New(progress.WithDefaultGradient())
	progressBar.Width = 40

	delegate := deviceDelegate{width: MinTerminalWidth}
	deviceList := list.New([]list.Item{}, delegate, 0, 0)
	deviceList.Title = "Discovered Devices"
	deviceList.SetShowStatusBar(false)
	deviceList.SetFilteringEnabled(true)
	deviceList.Styles.Title = TitleStyle

	keys := dashboardKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "move down"),
		),
		Toggle: key.NewBinding(
			key.WithKeys("enter", " ", "t"),
			key.WithHelp("enter/t", "toggle power"),
		),
		Rescan: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "rescan"),
		),
		Manual: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "manual address"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc"),
			key.WithHelp("q", "quit"),
		),
	}

	manualKeys := manualModeKeyMap{
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "probe"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
	}

	scanningKeys := scanningKeyMap{
		Manual: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "manual address"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
	}

	return Model{
		Querier:      q,
		ScanOptions:  scanOpts,
		DeviceList:   deviceList,
		AddrInput:    addrInput,
		busy:         make(map[string]bool),
		Spinner:      s,
		ProgressBar:  progressBar,
		Help:         help.New(),
		Keys:         keys,
		ManualKeys:   manualKeys,
		ScanningKeys: scanningKeys,
	}
}

// Init starts an immediate network scan
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return scanStartMsg{} },
		scanCmd(m.ScanOptions),
		m.Spinner.Tick,
	)
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.ManualMode {
			return m.updateManualMode(msg)
		}
		return m.updateNormalMode(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.DeviceList.SetWidth(msg.Width - 4)
		m.DeviceList.SetHeight(msg.Height - 10)

	case scanStartMsg:
		m.Scanning = true
		m.ScanStartTime = time.Now()

	case scanCompleteMsg:
		m.Scanning = false
		m.Err = msg.err
		items := make([]list.Item, len(msg.devices))
		for i, dev := range msg.devices {
			items[i] = deviceItem{desc: dev}
		}
		m.DeviceList.SetItems(items)

	case toggleDoneMsg:
		delete(m.busy, msg.endpoint.Key())
		if msg.err != nil {
			m.Err = msg.err
			return m, nil
		}
		m.Err = nil
		if msg.refresh != nil {
			m.replaceItem(msg.refresh)
		}

	case spinner.TickMsg:
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	if !m.ManualMode && !m.Scanning {
		m.DeviceList, cmd = m.DeviceList.Update(msg)
	}

	return m, cmd
}

// replaceItem swaps in a refreshed descriptor for its endpoint
func (m *Model) replaceItem(desc *discovery.Descriptor) {
	for i, item := range m.DeviceList.Items() {
		if di, ok := item.(deviceItem); ok && di.desc.Endpoint.Key() == desc.Endpoint.Key() {
			m.DeviceList.SetItem(i, deviceItem{desc: desc})
			return
		}
	}
}

// updateNormalMode handles keyboard input in device list mode
func (m Model) updateNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "enter", " ", "t":
		if item, ok := m.DeviceList.SelectedItem().(deviceItem); ok {
			desc := item.desc
			if m.busy[desc.Endpoint.Key()] || !toggleable(desc) {
				return m, nil
			}
			m.busy[desc.Endpoint.Key()] = true
			return m, toggleCmd(m.Querier, desc)
		}

	case "r":
		m.DeviceList.SetItems([]list.Item{})
		m.Err = nil
		return m, tea.Batch(
			func() tea.Msg { return scanStartMsg{} },
			scanCmd(m.ScanOptions),
			m.Spinner.Tick,
		)

	case "m":
		m.ManualMode = true
		m.AddrInput.SetValue("")
		m.AddrInput.Focus()
	}

	return m, nil
}

// updateManualMode handles keyboard input in manual address entry mode
func (m Model) updateManualMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "ctrl+c", "esc":
		m.ManualMode = false
		m.AddrInput.SetValue("")
		m.AddrInput.Blur()
		return m, nil

	case "enter":
		value := strings.TrimSpace(m.AddrInput.Value())
		if value != "" {
			m.ManualMode = false
			m.AddrInput.SetValue("")
			m.AddrInput.Blur()

			// Probe just the entered address
			opts := m.ScanOptions
			host, portStr, splitErr := net.SplitHostPort(value)
			port := opts.Port
			if splitErr != nil {
				host = value
			} else if p, convErr := strconv.Atoi(portStr); convErr == nil {
				port = p
			}
			opts.Targets = []transport.Endpoint{
				transport.NewEndpoint(host, port, transport.Datagram),
			}
			opts.Broadcast = "" // unicast only
			return m, tea.Batch(
				func() tea.Msg { return scanStartMsg{} },
				scanCmd(opts),
				m.Spinner.Tick,
			)
		}
	}

	m.AddrInput, cmd = m.AddrInput.Update(msg)
	return m, cmd
}

// View renders the dashboard screen
func (m Model) View() string {
	width := m.Width
	if width == 0 {
		width = MinTerminalWidth
	}

	var content string
	switch {
	case m.ManualMode:
		content = m.renderManualEntry()
	case m.Scanning:
		content = m.renderScanning(width)
	default:
		content = m.renderDeviceResults()
	}

	var helpText string
	switch {
	case m.ManualMode:
		helpText = m.Help.View(m.ManualKeys)
	case m.Scanning:
		helpText = m.Help.View(m.ScanningKeys)
	default:
		helpText = m.Help.View(m.Keys)
	}

	return RenderApplicationContainer(content, helpText, m.Width, m.Height)
}

// renderScanning renders the centered scanning progress display
func (m Model) renderScanning(width int) string {
	elapsed := time.Since(m.ScanStartTime)
	window := m.ScanOptions.Window
	if window <= 0 {
		window = discovery.DefaultWindow
	}

	frac := float64(elapsed) / float64(window)
	if frac > 1 {
		frac = 1
	}

	title := fmt.Sprintf("%s SEARCHING FOR DEVICES", m.Spinner.View())
	subtitle := "Probing the local network for smart plugs and bulbs..."
	elapsedText := fmt.Sprintf("Elapsed: %ds", int(elapsed.Seconds()))

	content := lipgloss.JoinVertical(lipgloss.Center,
		"",
		TitleStyle.Render(title),
		"",
		SubtitleStyle.Render(subtitle),
		"",
		m.ProgressBar.ViewAs(frac),
		"",
		SubtitleStyle.Render(elapsedText),
		"",
	)

	return lipgloss.Place(width, 0, lipgloss.Center, lipgloss.Top, content)
}

// renderDeviceResults renders the device list or a "nothing found" hint
func (m Model) renderDeviceResults() string {
	var b strings.Builder

	b.WriteString("\n")

	if m.Err != nil {
		b.WriteString(RenderError(m.Err.Error()))
		b.WriteString("\n\n")
	}

	if len(m.DeviceList.Items()) == 0 {
		warningStyle := lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
		b.WriteString("  ")
		b.WriteString(warningStyle.Render("⚠ No devices found on your network"))
		b.WriteString("\n\n")
		b.WriteString("  Troubleshooting:\n")
		b.WriteString("    • Ensure the device is powered and joined to this network\n")
		b.WriteString("    • Broadcast discovery does not cross subnets; use 'm' to probe an address\n")
		b.WriteString("    • Try 'r' to rescan with a fresh window\n")
		return b.String()
	}

	b.WriteString(m.DeviceList.View())
	return b.String()
}

// renderManualEntry renders the manual address entry dialog
func (m Model) renderManualEntry() string {
	var b strings.Builder

	b.WriteString(SubtitleStyle.Render("Enter a device address (host or host:port)"))
	b.WriteString("\n\n")
	b.WriteString("  Address: ")
	b.WriteString(m.AddrInput.View())
	b.WriteString("\n\n")

	return b.String()
}

// toggleable reports whether the selected device has a switchable relay
func toggleable(desc *discovery.Descriptor) bool {
	switch desc.Variant {
	case registry.VariantPlug, registry.VariantDimmer, registry.VariantStrip:
		return true
	case registry.VariantBulb:
		return true
	default:
		return false
	}
}

// scanCmd runs one discovery round as a bubbletea command
func scanCmd(opts discovery.Options) tea.Cmd {
	return func() tea.Msg {
		window := opts.Window
		if window <= 0 {
			window = discovery.DefaultWindow
		}
		ctx, cancel := context.WithTimeout(context.Background(), window+2*time.Second)
		defer cancel()

		devices, err := discovery.Discover(ctx, opts)
		return scanCompleteMsg{devices: devices, err: err}
	}
}

// toggleCmd flips the selected device's power and re-reads its status
func toggleCmd(q device.Querier, desc *discovery.Descriptor) tea.Cmd {
	ep := desc.Endpoint
	current, _ := powerState(desc)
	on := !current

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var err error
		switch desc.Variant {
		case registry.VariantBulb:
			err = device.NewBulb(q, ep).SetPower(ctx, on)
		case registry.VariantStrip:
			err = device.NewStrip(q, ep).SetAllRelays(ctx, on)
		default:
			err = device.NewPlug(q, ep).SetRelayState(ctx, on)
		}
		if err != nil {
			return toggleDoneMsg{endpoint: ep, err: err}
		}

		info, err := device.New(q, ep).SysInfo(ctx)
		if err != nil {
			return toggleDoneMsg{endpoint: ep, err: err}
		}
		refreshed := &discovery.Descriptor{
			Endpoint:   ep,
			Variant:    registry.Classify(info),
			Info:       info,
			ReceivedAt: time.Now(),
		}
		return toggleDoneMsg{endpoint: ep, refresh: refreshed}
	}
}
