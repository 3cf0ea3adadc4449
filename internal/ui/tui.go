// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and carries volume keys back to the receiver
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/ohreceiver/ohreceiver/pkg/sync"
)

// VolumeChangeMsg is a volume or mute change made from the keyboard
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// QuitMsg signals the user asked to quit
type QuitMsg struct{}

// VolumeControl holds channels for volume control communication
type VolumeControl struct {
	Changes chan VolumeChangeMsg
	Quit    chan QuitMsg
}

// NewVolumeControl creates a new volume control handler
func NewVolumeControl() *VolumeControl {
	return &VolumeControl{
		Changes: make(chan VolumeChangeMsg, 10),
		Quit:    make(chan QuitMsg, 1),
	}
}

func (v *VolumeControl) change(volume int, muted bool) {
	if v == nil {
		return
	}
	select {
	case v.Changes <- VolumeChangeMsg{Volume: volume, Muted: muted}:
	default:
	}
}

func (v *VolumeControl) quit() {
	if v == nil {
		return
	}
	select {
	case v.Quit <- QuitMsg{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(volCtrl *VolumeControl, volume int) Model {
	return Model{
		volume:     volume,
		state:      "starting",
		quality:    sync.QualityLost,
		volumeCtrl: volCtrl,
	}
}

// Run creates the TUI program; the caller starts it
func Run(volCtrl *VolumeControl, volume int) *tea.Program {
	return tea.NewProgram(NewModel(volCtrl, volume), tea.WithAltScreen())
}
