// ABOUTME: Songcast zone and preset discovery package
// ABOUTME: Resolves presets and ohz zone URIs into stream endpoints
// Package discovery resolves Songcast presets and zones into stream
// endpoints using the Ohz query protocol.
//
// A preset is a number a sender publishes together with DIDL-Lite
// metadata; the stream URI is the text of the metadata's res element. A
// zone URI (ohz://host:port/zone) is answered by the zone's sender with
// the URI currently streaming to it.
//
// Example:
//
//	group := &net.UDPAddr{IP: net.ParseIP(protocol.DiscoveryGroup), Port: protocol.DiscoveryPort}
//	conn, _ := transport.ListenMulticast(ctx, group, transport.Options{})
//	r := discovery.NewResolver(conn, metadata.Default, discovery.Config{})
//	ep, err := r.ResolvePreset(ctx, 3)
//	if err == nil {
//	    ep, err = r.Resolve(ctx, ep)
//	}
package discovery
