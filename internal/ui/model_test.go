// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests status updates, key handling and rendering helpers
package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ohreceiver/ohreceiver/pkg/sync"
)

func TestNewModel(t *testing.T) {
	model := NewModel(nil, 80) // VolumeControl is optional for testing

	if model.volume != 80 {
		t.Errorf("expected volume 80, got %d", model.volume)
	}

	if model.muted {
		t.Error("expected muted to be false initially")
	}

	if model.quality != sync.QualityLost {
		t.Errorf("expected initial quality Lost, got %v", model.quality)
	}

	if model.showDebug {
		t.Error("expected showDebug to be false initially")
	}
}

func TestStatusMsgSession(t *testing.T) {
	model := NewModel(nil, 100)

	slaves := 2
	model.applyStatus(StatusMsg{
		Endpoint:  "ohm://239.255.255.250:51972",
		State:     "active",
		SessionID: "abc",
		Slaves:    &slaves,
	})

	if model.endpoint != "ohm://239.255.255.250:51972" {
		t.Errorf("unexpected endpoint %q", model.endpoint)
	}
	if model.state != "active" {
		t.Errorf("expected state active, got %q", model.state)
	}
	if model.slaves != 2 {
		t.Errorf("expected 2 slaves, got %d", model.slaves)
	}

	// An empty slave list is an update, not a no-op
	none := 0
	model.applyStatus(StatusMsg{Slaves: &none})
	if model.slaves != 0 {
		t.Errorf("expected 0 slaves, got %d", model.slaves)
	}
}

func TestStatusMsgStreamInfo(t *testing.T) {
	model := NewModel(nil, 100)

	quality := sync.QualityGood
	model.applyStatus(StatusMsg{
		Codec:      "PCM",
		SampleRate: 44100,
		Channels:   2,
		BitDepth:   24,
		Quality:    &quality,
		Latency:    100 * time.Millisecond,
	})

	if model.codec != "PCM" || model.sampleRate != 44100 || model.channels != 2 || model.bitDepth != 24 {
		t.Errorf("stream info not applied: %+v", model)
	}
	if model.quality != sync.QualityGood {
		t.Errorf("expected quality Good, got %v", model.quality)
	}
	if model.latency != 100*time.Millisecond {
		t.Errorf("expected latency 100ms, got %v", model.latency)
	}
}

func TestStatusMsgTrackClearsArtwork(t *testing.T) {
	model := NewModel(nil, 100)

	model.applyStatus(StatusMsg{Track: &TrackFields{Title: "So What", Artist: "Miles Davis"}})
	model.applyStatus(StatusMsg{ArtworkPath: "/tmp/a.jpg"})

	if model.artworkPath != "/tmp/a.jpg" {
		t.Errorf("expected artwork path, got %q", model.artworkPath)
	}

	model.applyStatus(StatusMsg{Track: &TrackFields{Title: "Freddie Freeloader"}})

	if model.title != "Freddie Freeloader" {
		t.Errorf("expected new title, got %q", model.title)
	}
	if model.artist != "" {
		t.Errorf("expected artist cleared, got %q", model.artist)
	}
	if model.artworkPath != "" {
		t.Errorf("expected artwork cleared for new track, got %q", model.artworkPath)
	}
}

func TestStatusMsgStats(t *testing.T) {
	model := NewModel(nil, 100)

	model.applyStatus(StatusMsg{Stats: &Counters{Played: 100, Lost: 2, Overdue: 1, Relayed: 50}})
	model.applyStatus(StatusMsg{SenderLost: 3})
	model.applyStatus(StatusMsg{SenderLost: 2})

	if model.played != 100 || model.lost != 2 || model.overdue != 1 || model.relayed != 50 {
		t.Errorf("stats not applied: %+v", model)
	}
	if model.senderLost != 5 {
		t.Errorf("expected sender lost to accumulate to 5, got %d", model.senderLost)
	}
}

func TestStatusMsgZeroValues(t *testing.T) {
	model := NewModel(nil, 60)
	model.applyStatus(StatusMsg{Codec: "PCM", SampleRate: 48000})

	model.applyStatus(StatusMsg{})

	if model.codec != "PCM" || model.volume != 60 {
		t.Error("empty status should not change anything")
	}
}

func TestVolumeKeys(t *testing.T) {
	ctrl := NewVolumeControl()
	var m tea.Model = NewModel(ctrl, 95)

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	change := <-ctrl.Changes
	if change.Volume != 100 {
		t.Errorf("expected volume capped at 100, got %d", change.Volume)
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("m")})
	change = <-ctrl.Changes
	if !change.Muted {
		t.Error("expected mute toggle")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Error("expected quit command")
	}
	select {
	case <-ctrl.Quit:
	default:
		t.Error("expected quit signal")
	}
}

func TestViewRenders(t *testing.T) {
	var m tea.Model = NewModel(nil, 100)
	if m.View() != "Loading..." {
		t.Error("expected loading view before size is known")
	}

	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m, _ = m.Update(StatusMsg{Endpoint: "ohu://192.168.1.10:51972", State: "active", Codec: "PCM", Channels: 2})
	view := m.View()

	for _, want := range []string{"Songcast Receiver", "ohu://192.168.1.10:51972", "Stereo", "(No metadata)"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestTruncateFunction(t *testing.T) {
	tests := []struct {
		input    string
		length   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long string", 10, "this is..."},
	}

	for _, tt := range tests {
		if got := truncate(tt.input, tt.length); got != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, expected %q", tt.input, tt.length, got, tt.expected)
		}
	}
}

func TestChannelNameFunction(t *testing.T) {
	tests := []struct {
		channels int
		expected string
	}{
		{1, "Mono"},
		{2, "Stereo"},
		{6, "6ch"},
	}

	for _, tt := range tests {
		if got := channelName(tt.channels); got != tt.expected {
			t.Errorf("channelName(%d) = %q, expected %q", tt.channels, got, tt.expected)
		}
	}
}

func TestRenderBar(t *testing.T) {
	if got := renderBar(50, 100, 4); got != "██░░" {
		t.Errorf("renderBar(50, 100, 4) = %q", got)
	}
}
