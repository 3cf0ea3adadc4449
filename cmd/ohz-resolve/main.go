// ABOUTME: Resolves a Songcast preset or zone URI to a stream URI
// ABOUTME: Prints the ohm:// or ohu:// URI a receiver would join, then exits
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ohreceiver/ohreceiver/internal/transport"
	"github.com/ohreceiver/ohreceiver/pkg/songcast"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("ohz-resolve", pflag.ContinueOnError)
	preset := fs.Uint32P("preset", "p", 0, "Preset number to resolve")
	uri := fs.StringP("uri", "u", "", "Zone URI to resolve (ohz://...)")
	timeout := fs.Duration("timeout", 10*time.Second, "Give up after this long")
	iface := fs.String("interface", "", "Network interface for multicast")
	verbose := fs.BoolP("verbose", "v", false, "Log discovery traffic")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logrus.SetOutput(os.Stderr)
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	receiver, err := songcast.NewReceiver(songcast.ReceiverConfig{
		URI:              *uri,
		Preset:           *preset,
		UsePreset:        fs.Changed("preset"),
		Transport:        transport.Options{Interface: *iface},
		DiscoveryTimeout: *timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ohz-resolve: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ep, err := receiver.Resolve(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ohz-resolve: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(ep.String())
}
