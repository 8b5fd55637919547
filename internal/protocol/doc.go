// Package protocol defines the wire-level contract between clients and the
// relay: connection admission parameters, the microphone/speaker role set,
// and the jitter notification control message.
package protocol
