// ABOUTME: Entry point for the Songcast receiver
// ABOUTME: Loads configuration and runs the receiver with its display, monitor and mDNS advertisement
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ohreceiver/ohreceiver/internal/artwork"
	"github.com/ohreceiver/ohreceiver/internal/config"
	"github.com/ohreceiver/ohreceiver/internal/discovery"
	"github.com/ohreceiver/ohreceiver/internal/logging"
	"github.com/ohreceiver/ohreceiver/internal/monitor"
	"github.com/ohreceiver/ohreceiver/internal/transport"
	"github.com/ohreceiver/ohreceiver/internal/ui"
	"github.com/ohreceiver/ohreceiver/internal/version"
	"github.com/ohreceiver/ohreceiver/pkg/audio/output"
	"github.com/ohreceiver/ohreceiver/pkg/protocol"
	"github.com/ohreceiver/ohreceiver/pkg/songcast"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ohreceiver: %v\n", err)
		os.Exit(2)
	}

	logFile, err := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, TUI: cfg.TUI})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ohreceiver: %v\n", err)
		os.Exit(1)
	}

	logrus.RegisterExitHandler(func() { _ = logFile.Close() })

	if err := run(cfg); err != nil {
		logrus.WithError(err).Fatal("Receiver failed")
	}
	_ = logFile.Close()
}

func run(cfg *config.Config) error {
	logrus.WithFields(logrus.Fields{
		"version": version.Version,
		"name":    cfg.Name,
		"output":  cfg.Output,
	}).Info("Starting Songcast receiver")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := songcast.NewMetrics(reg)
	if err != nil {
		return err
	}

	out, err := output.New(cfg.Output)
	if err != nil {
		return err
	}
	if vc, ok := out.(output.VolumeControl); ok {
		vc.SetVolume(cfg.Volume)
	}

	art, err := artwork.NewDownloader(cfg.ArtworkDir)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	hub := monitor.NewHub()

	// TUI setup
	var tuiProg *tea.Program
	var volumeCtrl *ui.VolumeControl
	if cfg.TUI {
		volumeCtrl = ui.NewVolumeControl()
		tuiProg = ui.Run(volumeCtrl, cfg.Volume)
	}

	// Helper to update TUI
	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	receiver, err := songcast.NewReceiver(songcast.ReceiverConfig{
		URI:              cfg.URI,
		Preset:           cfg.Preset,
		UsePreset:        cfg.UsePreset,
		Output:           out,
		Transport:        transport.Options{Interface: cfg.Interface},
		DiscoveryTimeout: cfg.DiscoveryTimeout,
		RestartOnHalt:    cfg.RestartOnHalt,
		RequestResend:    cfg.RequestResend,
		Metrics:          metrics,
		Callbacks:        callbacks(ctx, hub, art, updateTUI),
		OnEndpoint: func(ep protocol.Endpoint) {
			hub.Publish("endpoint", ep.String())
			updateTUI(ui.StatusMsg{Endpoint: ep.String()})
		},
	})
	if err != nil {
		return err
	}

	if cfg.Advertise {
		adv, err := discovery.Advertise(discovery.Config{
			Name:     cfg.Name,
			Port:     advertisedPort(cfg.MonitorAddr),
			Endpoint: cfg.URI,
			Version:  version.Version,
		})
		if err != nil {
			logrus.WithError(err).Warn("mDNS advertisement failed")
		} else {
			defer func() { _ = adv.Stop() }()
		}
	}

	g.Go(func() error {
		defer cancel()
		return receiver.Run(ctx)
	})

	if cfg.MonitorAddr != "" {
		srv := monitor.NewServer(cfg.MonitorAddr, hub, reg)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	if tuiProg != nil {
		g.Go(func() error {
			defer cancel()
			if _, err := tuiProg.Run(); err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			tuiProg.Quit()
			return nil
		})
		g.Go(func() error {
			handleVolumeControl(ctx, receiver, volumeCtrl, cancel)
			return nil
		})
		g.Go(func() error {
			runtimeStatsLoop(ctx, updateTUI)
			return nil
		})
	}

	err = g.Wait()
	if cleanupErr := art.Cleanup(); cleanupErr != nil {
		logrus.WithError(cleanupErr).Debug("Artwork cleanup failed")
	}
	logrus.Info("Receiver stopped")
	return err
}

// callbacks fans session events out to the monitor hub and the TUI
func callbacks(ctx context.Context, hub *monitor.Hub, art *artwork.Downloader, updateTUI func(ui.StatusMsg)) songcast.Callbacks {
	return songcast.Callbacks{
		OnStateChange: func(state songcast.State) {
			hub.Publish("state", state.String())
			updateTUI(ui.StatusMsg{State: state.String()})
		},
		OnTrack: func(track songcast.TrackInfo) {
			hub.Publish("track", track)
			updateTUI(ui.StatusMsg{Track: &ui.TrackFields{
				Title:  track.Details.Title,
				Artist: track.Details.Artist,
				Album:  track.Details.Album,
			}})
			if track.Details.AlbumArtURI != "" {
				go fetchArtwork(ctx, art, track.Details.AlbumArtURI, updateTUI)
			}
		},
		OnMetatext: func(text string) {
			hub.Publish("metatext", text)
			updateTUI(ui.StatusMsg{Metatext: &text})
		},
		OnLostFrames: func(frames []uint32) {
			hub.Publish("lost", frames)
			updateTUI(ui.StatusMsg{SenderLost: uint64(len(frames))})
		},
		OnSlaves: func(slaves []*net.UDPAddr) {
			addrs := make([]string, len(slaves))
			for i, s := range slaves {
				addrs[i] = s.String()
			}
			hub.Publish("slaves", addrs)
			n := len(slaves)
			updateTUI(ui.StatusMsg{Slaves: &n})
		},
		OnStats: func(stats songcast.Stats) {
			hub.Publish("stats", stats)
			updateTUI(statusFromStats(stats))
		},
	}
}

func fetchArtwork(ctx context.Context, art *artwork.Downloader, url string, updateTUI func(ui.StatusMsg)) {
	path, err := art.Download(ctx, url)
	if err != nil {
		logrus.WithError(err).WithField("url", url).Warn("Artwork download failed")
		return
	}
	updateTUI(ui.StatusMsg{ArtworkPath: path})
}

func statusFromStats(stats songcast.Stats) ui.StatusMsg {
	quality := stats.Quality
	slaves := stats.Slaves
	return ui.StatusMsg{
		State:      stats.State.String(),
		SessionID:  stats.SessionID,
		Slaves:     &slaves,
		Quality:    &quality,
		Latency:    stats.Latency,
		Buffered:   stats.Buffered,
		Codec:      stats.Codec,
		SampleRate: stats.Format.SampleRate,
		Channels:   stats.Format.Channels,
		BitDepth:   stats.Format.BitDepth,
		Stats: &ui.Counters{
			Played:       stats.Played,
			Lost:         stats.Jitter.Lost,
			Overdue:      stats.Overdue,
			Duplicates:   stats.Jitter.Duplicates,
			Relayed:      stats.Relayed,
			Reconfigures: stats.Reconfigures,
		},
	}
}

// advertisedPort is the monitor port when there is one
func advertisedPort(monitorAddr string) int {
	if monitorAddr != "" {
		if _, port, err := net.SplitHostPort(monitorAddr); err == nil {
			if n, err := strconv.Atoi(port); err == nil && n > 0 {
				return n
			}
		}
	}
	return protocol.DiscoveryPort
}

// handleVolumeControl processes volume changes from TUI
func handleVolumeControl(ctx context.Context, receiver *songcast.Receiver, volumeCtrl *ui.VolumeControl, quit context.CancelFunc) {
	for {
		select {
		case vol := <-volumeCtrl.Changes:
			logrus.WithFields(logrus.Fields{"volume": vol.Volume, "muted": vol.Muted}).Debug("Volume change")
			if err := receiver.SetVolume(vol.Volume); err != nil {
				logrus.WithError(err).Warn("Volume change ignored")
				continue
			}
			_ = receiver.SetMuted(vol.Muted)
		case <-volumeCtrl.Quit:
			logrus.Info("Received quit signal from TUI")
			quit()
			return
		case <-ctx.Done():
			return
		}
	}
}

// runtimeStatsLoop periodically sends process stats to the TUI
func runtimeStatsLoop(ctx context.Context, updateTUI func(ui.StatusMsg)) {
	// Slow ticker: ReadMemStats stops the world
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			updateTUI(ui.StatusMsg{
				Goroutines: runtime.NumGoroutine(),
				MemAlloc:   m.Alloc,
				MemSys:     m.Sys,
			})
		case <-ctx.Done():
			return
		}
	}
}
