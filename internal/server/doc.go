// Package server implements the WebSocket transport of gorelay.
//
// The implementation is organized into specialized files for options, hub
// management, clients, routing, and HTTP handlers. Each accepted connection
// becomes a Client, which is the relay.Handle the relay core routes messages
// to; the Hub owns client bookkeeping and feeds connection events into the
// relay lifecycle manager.
package server
