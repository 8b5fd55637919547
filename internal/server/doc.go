// Package server implements the connection gateway: the WebSocket relay
// endpoint with admission validation and role classification, plus the
// HTTP monitoring and management API.
package server
