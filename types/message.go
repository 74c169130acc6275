package types

import (
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// messagePrefixLength is origin, sender, nonce, destination and recipient.
const messagePrefixLength = 4 + 32 + 4 + 4 + 32

// Message is one entry of a home outbox. Index is its leaf position in the outbox tree.
type Message struct {
	Origin      uint32 `json:"origin"`
	Sender      Hash   `json:"sender"`
	Nonce       uint32 `json:"nonce"`
	Destination uint32 `json:"destination"`
	Recipient   Hash   `json:"recipient"`
	Body        []byte `json:"-"`
	Index       uint32 `json:"index"`
}

// Encode returns the packed form that is hashed into the outbox leaf.
func (m Message) Encode() []byte {
	buf := make([]byte, 0, messagePrefixLength+len(m.Body))
	buf = append(buf, uint32Bytes(m.Origin)...)
	buf = append(buf, m.Sender[:]...)
	buf = append(buf, uint32Bytes(m.Nonce)...)
	buf = append(buf, uint32Bytes(m.Destination)...)
	buf = append(buf, m.Recipient[:]...)
	return append(buf, m.Body...)
}

func (m Message) Leaf() Hash {
	return Keccak256(m.Encode())
}

// DecodeMessage parses the packed form produced by Encode.
func DecodeMessage(b []byte, index uint32) (Message, error) {
	if len(b) < messagePrefixLength {
		return Message{}, errors.Errorf("message too short: %d bytes", len(b))
	}
	be := func(off int) uint32 {
		return uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
	}
	m := Message{
		Origin:      be(0),
		Sender:      BytesToHash(b[4:36]),
		Nonce:       be(36),
		Destination: be(40),
		Recipient:   BytesToHash(b[44:76]),
		Index:       index,
	}
	if len(b) > messagePrefixLength {
		m.Body = append([]byte(nil), b[messagePrefixLength:]...)
	}
	return m, nil
}

type messageJSON struct {
	Origin      uint32 `json:"origin"`
	Sender      Hash   `json:"sender"`
	Nonce       uint32 `json:"nonce"`
	Destination uint32 `json:"destination"`
	Recipient   Hash   `json:"recipient"`
	Body        string `json:"body"`
	Index       uint32 `json:"index"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		Origin:      m.Origin,
		Sender:      m.Sender,
		Nonce:       m.Nonce,
		Destination: m.Destination,
		Recipient:   m.Recipient,
		Body:        "0x" + hex.EncodeToString(m.Body),
		Index:       m.Index,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	body, err := decodeHex(raw.Body)
	if err != nil {
		return errors.Wrap(err, "message body")
	}
	*m = Message{
		Origin:      raw.Origin,
		Sender:      raw.Sender,
		Nonce:       raw.Nonce,
		Destination: raw.Destination,
		Recipient:   raw.Recipient,
		Body:        body,
		Index:       raw.Index,
	}
	return nil
}
