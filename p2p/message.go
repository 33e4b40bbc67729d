package p2p

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// Message types relayed between nodes.
const (
	MessageBlock         = "block"
	MessageTransaction   = "transaction"
	MessagePeerDiscovery = "peer_discovery"
	MessageSyncRequest   = "sync_request"
)

// Message is the generic envelope for anything sent over the network. The
// payload stays raw until a handler decodes it into the type it expects.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	SenderID  string          `json:"senderId"`
	To        string          `json:"to,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Signature string          `json:"signature"`
}

// NewMessage wraps payload in an envelope from sender.
func NewMessage(msgType, sender string, timestamp int64, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		SenderID:  sender,
		Timestamp: timestamp,
	}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s message %s: %w", m.Type, m.ID, err)
	}
	return nil
}

// sign tags payload with the relay's identity. It marks the origin network of
// a message; it is not an authentication scheme.
func sign(payload []byte, networkID string) string {
	sum := sha3.Sum256(append(append([]byte(nil), payload...), networkID...))
	return hex.EncodeToString(sum[:])
}
