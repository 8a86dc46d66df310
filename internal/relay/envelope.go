package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pscheid92/chatrelay/internal/domain"
)

// ErrMalformedEnvelope indicates an inbound payload that could not be decoded
// as a chat envelope. It is a recoverable per-message failure: the sender gets
// a rejection frame and the connection stays open.
var ErrMalformedEnvelope = errors.New("malformed message envelope")

// inboundEnvelope is the wire format clients send. A missing "message" key is
// a hard decode failure; a missing "username" defaults to Anonymous.
type inboundEnvelope struct {
	Message  *string `json:"message"`
	Username string  `json:"username"`
}

// OutboundMessage is the wire format fanned out to every room member. The
// timestamp is the sender-side receipt time, not a per-recipient send time.
type OutboundMessage struct {
	Message   string `json:"message"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

// rejection is sent back to a client whose individual message was malformed.
type rejection struct {
	Error string `json:"error"`
}

func decodeInbound(raw []byte) (message, username string, err error) {
	var envelope inboundEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if envelope.Message == nil {
		return "", "", fmt.Errorf("%w: missing required field \"message\"", ErrMalformedEnvelope)
	}

	username = envelope.Username
	if username == "" {
		username = domain.AnonymousUsername
	}
	return *envelope.Message, username, nil
}
