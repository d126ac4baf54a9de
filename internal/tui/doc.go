// Package tui implements the interactive discovery dashboard.
//
// The dashboard is a full-screen Bubble Tea program: it scans the local
// network, lists what answered as selectable cards, and lets the user
// flip a device's power without leaving the terminal. It follows the
// Elm architecture, with async work (scans, relay toggles) expressed as
// tea.Cmd functions that resolve to messages.
//
// Framework components used:
//   - bubbles/spinner and bubbles/progress while a scan is running
//   - bubbles/list with a custom card delegate for discovered devices
//   - bubbles/textinput for manual address entry
//   - bubbles/help for context-sensitive key hints
//   - lipgloss for styling and layout
//
// Key bindings are context-aware: ↑/↓ navigate, enter/t toggles power,
// r rescans, m probes a manually entered address, q quits.
package tui
