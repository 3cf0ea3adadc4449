// ABOUTME: Bubbletea model for the receiver display
// ABOUTME: Holds session, stream and track state and renders it
package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ohreceiver/ohreceiver/pkg/sync"
)

// Model represents the TUI state
type Model struct {
	// Session
	endpoint  string
	state     string
	sessionID string
	slaves    int

	// Timing
	latency  time.Duration
	buffered time.Duration
	quality  sync.Quality

	// Stream
	codec      string
	sampleRate int
	channels   int
	bitDepth   int

	// Metadata
	title       string
	artist      string
	album       string
	artworkPath string
	metatext    string

	// Playback
	volume int
	muted  bool

	// Stats
	played      uint64
	lost        uint64
	overdue     uint64
	duplicates  uint64
	senderLost  uint64
	relayed     uint64
	reconfigure uint64

	// Runtime
	goroutines int
	memAlloc   uint64
	memSys     uint64

	// Debug
	showDebug bool

	volumeCtrl *VolumeControl

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderStreamInfo()
	s += m.renderControls()
	s += m.renderStats()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders session and timing status
func (m Model) renderHeader() string {
	status := "Waiting for stream"
	if m.endpoint != "" {
		status = fmt.Sprintf("%s (%s)", truncate(m.endpoint, 30), m.state)
	}

	icon := "✗"
	text := "No audio"
	switch m.quality {
	case sync.QualityGood:
		icon = "✓"
		text = fmt.Sprintf("Playing (latency: %dms, buffered: %dms)",
			m.latency.Milliseconds(), m.buffered.Milliseconds())
	case sync.QualityDegraded:
		icon = "⚠"
		text = "Degraded (frames late or lost)"
	}

	return fmt.Sprintf(`┌─ Songcast Receiver ──────────────────────────────────┐
│ Source: %-45s │
│ Audio:  %s %-42s │
├──────────────────────────────────────────────────────┤
`, status, icon, truncate(text, 42))
}

// renderStreamInfo renders current stream and metadata
func (m Model) renderStreamInfo() string {
	if m.codec == "" {
		return "│ No stream                                            │\n"
	}

	s := "│ Now Playing:                                         │\n"
	if m.title != "" {
		s += fmt.Sprintf("│   Track:  %-42s │\n", truncate(m.title, 42))
		s += fmt.Sprintf("│   Artist: %-42s │\n", truncate(m.artist, 42))
		s += fmt.Sprintf("│   Album:  %-42s │\n", truncate(m.album, 42))
	} else {
		s += "│   (No metadata)                                      │\n"
	}
	if m.metatext != "" {
		s += fmt.Sprintf("│   Info:   %-42s │\n", truncate(m.metatext, 42))
	}

	s += "│                                                      │\n"
	s += fmt.Sprintf("│ Format: %-44s │\n",
		fmt.Sprintf("%s %dHz %s %d-bit", m.codec, m.sampleRate, channelName(m.channels), m.bitDepth))

	return s
}

// renderControls renders volume and relay status
func (m Model) renderControls() string {
	muteIcon := ""
	if m.muted {
		muteIcon = " 🔇"
	}

	volumeBar := renderBar(m.volume, 100, 10)

	return fmt.Sprintf("│                                                      │\n"+
		"│ Volume: [%s] %d%%%s%-17s │\n"+
		"│ Relay:  %-44s │\n",
		volumeBar, m.volume, muteIcon, "",
		fmt.Sprintf("%d slaves, %d forwarded", m.slaves, m.relayed))
}

// renderStats renders playback statistics
func (m Model) renderStats() string {
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Stats:  %-44s │
│         %-44s │
`, fmt.Sprintf("Played: %d  Lost: %d  Late: %d", m.played, m.lost, m.overdue),
		fmt.Sprintf("Dup: %d  Peer lost: %d", m.duplicates, m.senderLost))
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ ↑/↓:Volume  m:Mute  d:Debug  q:Quit                  │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Session:    %-38s │
│   Reopens:    %-38d │
│   Goroutines: %-38d │
│   Memory:     %-38s │
│   Artwork:    %-38s │
`, m.sessionID, m.reconfigure, m.goroutines,
		fmt.Sprintf("%.1fMB / %.1fMB", float64(m.memAlloc)/1e6, float64(m.memSys)/1e6),
		truncate(m.artworkPath, 38))
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.volumeCtrl.quit()
		return m, tea.Quit
	case "up":
		if m.volume < 100 {
			m.volume += 5
			if m.volume > 100 {
				m.volume = 100
			}
			m.volumeCtrl.change(m.volume, m.muted)
		}
	case "down":
		if m.volume > 0 {
			m.volume -= 5
			if m.volume < 0 {
				m.volume = 0
			}
			m.volumeCtrl.change(m.volume, m.muted)
		}
	case "m":
		m.muted = !m.muted
		m.volumeCtrl.change(m.volume, m.muted)
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Endpoint != "" {
		m.endpoint = msg.Endpoint
	}
	if msg.State != "" {
		m.state = msg.State
	}
	if msg.SessionID != "" {
		m.sessionID = msg.SessionID
	}
	if msg.Slaves != nil {
		m.slaves = *msg.Slaves
	}
	if msg.Quality != nil {
		m.quality = *msg.Quality
		m.latency = msg.Latency
		m.buffered = msg.Buffered
	}
	if msg.Codec != "" {
		m.codec = msg.Codec
		m.sampleRate = msg.SampleRate
		m.channels = msg.Channels
		m.bitDepth = msg.BitDepth
	}
	if msg.Track != nil {
		m.title = msg.Track.Title
		m.artist = msg.Track.Artist
		m.album = msg.Track.Album
		m.artworkPath = ""
	}
	if msg.ArtworkPath != "" {
		m.artworkPath = msg.ArtworkPath
	}
	if msg.Metatext != nil {
		m.metatext = *msg.Metatext
	}
	if msg.Volume != nil {
		m.volume = *msg.Volume
	}
	if msg.Stats != nil {
		m.played = msg.Stats.Played
		m.lost = msg.Stats.Lost
		m.overdue = msg.Stats.Overdue
		m.duplicates = msg.Stats.Duplicates
		m.relayed = msg.Stats.Relayed
		m.reconfigure = msg.Stats.Reconfigures
	}
	if msg.SenderLost != 0 {
		m.senderLost += msg.SenderLost
	}
	if msg.Goroutines != 0 {
		m.goroutines = msg.Goroutines
		m.memAlloc = msg.MemAlloc
		m.memSys = msg.MemSys
	}
}

// TrackFields are the display fields of the current track
type TrackFields struct {
	Title  string
	Artist string
	Album  string
}

// Counters are cumulative session counters
type Counters struct {
	Played       uint64
	Lost         uint64
	Overdue      uint64
	Duplicates   uint64
	Relayed      uint64
	Reconfigures uint64
}

// StatusMsg updates TUI state. Zero or nil fields leave the display as is.
type StatusMsg struct {
	Endpoint  string
	State     string
	SessionID string
	Slaves    *int

	Quality  *sync.Quality
	Latency  time.Duration
	Buffered time.Duration

	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int

	Track       *TrackFields
	ArtworkPath string
	Metatext    *string

	Volume *int

	Stats      *Counters
	SenderLost uint64

	Goroutines int
	MemAlloc   uint64
	MemSys     uint64
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	switch channels {
	case 1:
		return "Mono"
	case 2:
		return "Stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}
