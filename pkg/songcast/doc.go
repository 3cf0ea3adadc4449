// ABOUTME: Songcast receiver package
// ABOUTME: Session management, jitter buffering and the high-level Receiver
// Package songcast receives OpenHome Songcast audio streams.
//
// A Receiver turns a preset number or an ohz/ohm/ohu URI into a stream
// endpoint and runs Sessions against it. A Session joins the stream,
// keeps it alive, relays datagrams to any slaves the sender names,
// reorders audio frames through a JitterBuffer and plays them on an
// output.
//
// Example:
//
//	out, _ := output.New("malgo")
//	r, err := songcast.NewReceiver(songcast.ReceiverConfig{
//	    URI:    "ohm://239.255.255.250:51972",
//	    Output: out,
//	    Callbacks: songcast.Callbacks{
//	        OnTrack: func(t songcast.TrackInfo) { fmt.Println(t.Details.Title) },
//	    },
//	})
//	err = r.Run(ctx)
package songcast
