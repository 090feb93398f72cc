// Package types holds the transport-agnostic types shared by the
// upstream transports and their consumers.
package types

import (
	"fmt"
	"strings"

	"github.com/Satoappco/SatoApp-sub002/internal/platform"
)

// TransportMode selects how upstream platform servers are reached.
type TransportMode string

const (
	// ModeHTTP talks to per-platform HTTP microservices.
	ModeHTTP TransportMode = "http"
	// ModeStdio spawns per-platform subprocess servers.
	ModeStdio TransportMode = "stdio"
	// ModeAuto tries HTTP first and falls back to stdio only when no
	// platform could be reached over HTTP at all.
	ModeAuto TransportMode = "auto"
)

// ParseTransportMode parses a mode string. Empty input means auto.
func ParseTransportMode(s string) (TransportMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeAuto):
		return ModeAuto, nil
	case string(ModeHTTP):
		return ModeHTTP, nil
	case string(ModeStdio):
		return ModeStdio, nil
	default:
		return "", fmt.Errorf("unknown transport mode %q", s)
	}
}

// String implements fmt.Stringer.
func (m TransportMode) String() string { return string(m) }

// ToolInfo is one tool as reported by an upstream server.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ToolHandle is a tool plus the routing information needed to invoke
// it later, regardless of which transport produced it.
type ToolHandle struct {
	Platform    platform.Platform `json:"platform"`
	Server      string            `json:"server"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`

	// HTTP routing. Empty for stdio-backed tools.
	SessionID string `json:"session_id,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
}
