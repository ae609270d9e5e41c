package model

import "errors"

type (
	// MessagePacket travels inside the E2EE channel from one hop to the next.
	MessagePacket struct {
		TagKey       TagKey `json:"tag_key"`
		EphemeralKey []byte `json:"ephemeral_key"`
		Sealed       []byte `json:"sealed"` // nonce || AEAD(PRF(TagKey, payload))
		Payload      []byte `json:"payload"`
	}

	// TraceReport is what a user hands to the platform when reporting a message.
	TraceReport struct {
		TagKey  TagKey `json:"tag_key"`
		Message []byte `json:"message"`
	}

	// Link is a contact between two users, as registered in the neighbor index.
	Link struct {
		Sender   UserID `json:"sender"`
		Receiver UserID `json:"receiver"`
	}

	// Envelope is the relay frame. The platform sees the routing fields and the
	// trace tag; the packet is opaque end-to-end content.
	Envelope struct {
		From   UserID         `json:"from"`
		To     UserID         `json:"to"`
		Tag    TraceTag       `json:"tag"`
		Packet *MessagePacket `json:"packet"`
	}
)

func (e *Envelope) Validate() error {
	switch {
	case e.From == "" || e.To == "":
		return errors.New("envelope: missing sender or recipient")
	case e.From == e.To:
		return errors.New("envelope: sender and recipient are the same user")
	case e.Packet == nil:
		return errors.New("envelope: missing packet")
	}
	return nil
}
