// Package relay implements the connection registry and message-delivery
// pipeline of the gorelay service.
//
// The package is organized around three collaborating parts: the Registry,
// which maps a user identity to exactly one live connection handle; the
// Router, which persists an inbound message and forwards it to the
// recipient's live handle when one exists; and the Lifecycle manager, which
// turns transport events (connect, identity announcement, message,
// disconnect) into Registry and Router calls.
//
// The transport layer owns connections. The relay only holds non-owning
// Handle references and never closes them.
package relay
