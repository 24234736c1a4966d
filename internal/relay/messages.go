package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Control message types. Every other type is relayed verbatim to the partner.
const (
	TypeSearch     = "search"
	TypeStopSearch = "stopSearch"
	TypeSkipToNext = "skipToNext"
	TypePeerFound  = "peerFound"
)

var errMissingType = errors.New("missing message type")

// envelope is the part of an inbound message the service inspects. The rest of
// the payload (SDP, ICE candidates, chat text) is opaque.
type envelope struct {
	Type   string          `json:"type"`
	UserID json.RawMessage `json:"userId,omitempty"`
}

func parseEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decode message: %w", err)
	}
	if env.Type == "" {
		return envelope{}, errMissingType
	}
	return env, nil
}

// userID returns the declared user id when it is a JSON string. Any other
// shape is ignored.
func (e envelope) userID() string {
	if len(e.UserID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.UserID, &s); err != nil {
		return ""
	}
	return s
}

type peerFoundMessage struct {
	Type     string `json:"type"`
	PeerID   string `json:"peerId"`
	IsCaller bool   `json:"isCaller"`
}

func peerFoundPayload(peerID string, isCaller bool) []byte {
	// Marshal cannot fail for this type.
	b, _ := json.Marshal(peerFoundMessage{Type: TypePeerFound, PeerID: peerID, IsCaller: isCaller})
	return b
}

var partnerLeftPayload = []byte(`{"type":"` + TypeSkipToNext + `"}`)
