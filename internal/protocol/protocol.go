package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role token substrings accepted on the role query parameter.
const (
	TokenRecording = "recording"
	TokenListening = "listening"
)

// Role is the set of capabilities a connection holds. A connection may be
// a microphone, a speaker, or both at once.
type Role uint8

const (
	RoleNone Role = 0
	// RoleMicrophone grants the right to feed audio into the room buffer.
	RoleMicrophone Role = 1 << iota
	// RoleSpeaker subscribes the connection to block broadcasts and
	// jitter notifications.
	RoleSpeaker
)

// ParseRole maps a role string onto the closed capability set. Unrecognized
// text is ignored; a result of RoleNone fails validation at admission time
// rather than admitting a connection that can neither send nor receive.
func ParseRole(s string) Role {
	var r Role
	if strings.Contains(s, TokenRecording) {
		r |= RoleMicrophone
	}
	if strings.Contains(s, TokenListening) {
		r |= RoleSpeaker
	}
	return r
}

// IsMicrophone reports whether the role carries microphone capability
func (r Role) IsMicrophone() bool {
	return r&RoleMicrophone != 0
}

// IsSpeaker reports whether the role carries speaker capability
func (r Role) IsSpeaker() bool {
	return r&RoleSpeaker != 0
}

// String returns a human-readable capability list for logging
func (r Role) String() string {
	switch {
	case r.IsMicrophone() && r.IsSpeaker():
		return "microphone+speaker"
	case r.IsMicrophone():
		return "microphone"
	case r.IsSpeaker():
		return "speaker"
	default:
		return "none"
	}
}

// JitterNotice is the control message published to speakers when the
// smoothed jitter window changes. It is sent as a text frame, distinct
// from the binary audio blocks.
type JitterNotice struct {
	JitterMinMs int `json:"jitterMinMs"`
	JitterMaxMs int `json:"jitterMaxMs"`
}

// Marshal encodes the notice as its wire JSON
func (n JitterNotice) Marshal() ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode jitter notice: %w", err)
	}
	return data, nil
}

// AdmissionParams are the three required connection parameters. All must
// be present and the role must resolve to at least one capability before
// the stream is established.
type AdmissionParams struct {
	RoomID   string
	ClientID string
	Role     Role
}

// ParseAdmission validates the raw query parameters of a connection
// request. It returns an error naming the first missing or invalid
// parameter so the gateway can reject before upgrade.
func ParseAdmission(roomID, clientID, role string) (AdmissionParams, error) {
	if roomID == "" {
		return AdmissionParams{}, fmt.Errorf("missing required parameter: roomId")
	}

	if clientID == "" {
		return AdmissionParams{}, fmt.Errorf("missing required parameter: clientId")
	}

	if role == "" {
		return AdmissionParams{}, fmt.Errorf("missing required parameter: role")
	}

	parsed := ParseRole(role)
	if parsed == RoleNone {
		return AdmissionParams{}, fmt.Errorf("role %q contains neither %q nor %q",
			role, TokenRecording, TokenListening)
	}

	return AdmissionParams{RoomID: roomID, ClientID: clientID, Role: parsed}, nil
}
