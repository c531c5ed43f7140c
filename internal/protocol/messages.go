// Package protocol defines the frames and payloads exchanged over the live
// event channel. Every frame is a JSON object with a "type" discriminator,
// an optional "data" payload and, when the sender wants a reply, an "ack"
// sequence number.
package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ---------------------------------------------------------------------------
// Frame
// ---------------------------------------------------------------------------

// Frame is the envelope for every message on the wire.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Ack  uint64          `json:"ack,omitempty"`
}

// UnmarshalJSON rejects frames without a type so a malformed push never
// reaches a handler.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
		Ack  uint64          `json:"ack"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal frame: %w", err)
	}
	if raw.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	f.Type = raw.Type
	f.Ack = raw.Ack
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		f.Data = append(json.RawMessage(nil), raw.Data...)
	} else {
		f.Data = nil
	}
	return nil
}

// EncodeFrame marshals an event with its payload. ack is zero when no reply
// is requested.
func EncodeFrame(event string, payload interface{}, ack uint64) ([]byte, error) {
	f := Frame{Type: event, Ack: ack}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: failed to marshal %q payload: %w", event, err)
		}
		f.Data = data
	}
	out, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal frame: %w", err)
	}
	return out, nil
}

// DecodeFrame parses raw bytes into a Frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// Outbound payloads
// ---------------------------------------------------------------------------

// UserMessagePayload is published with sendUserMessage.
type UserMessagePayload struct {
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	Message    string `json:"message"`
	Type       string `json:"type"`
}

// SupportMessageBody is the nested message of sendSupportMessage.
type SupportMessageBody struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	SenderID int64  `json:"sender_id"`
	IsAdmin  bool   `json:"is_admin"`
}

// SupportMessagePayload is published with sendSupportMessage. UserID is the
// customer that owns the support thread.
type SupportMessagePayload struct {
	UserID  int64              `json:"userId"`
	Message SupportMessageBody `json:"message"`
}

// ReadReceiptPayload is published with readUserMessages/readSupportMessages.
type ReadReceiptPayload struct {
	ChatID     int64   `json:"chatId"`
	MessageIDs []int64 `json:"messageIds"`
	ReaderID   int64   `json:"readerId,omitempty"`
}

// CountRequest asks for a surface's unread count.
type CountRequest struct {
	UserID int64 `json:"userId"`
}

// ---------------------------------------------------------------------------
// Inbound payloads
// ---------------------------------------------------------------------------

// ReadNotice is pushed when another participant read messages.
type ReadNotice struct {
	ChatID     int64   `json:"chatId"`
	MessageIDs []int64 `json:"messageIds"`
}

// Presence is pushed with userOnline/userOffline.
type Presence struct {
	UserID int64 `json:"userId"`
}

// CountResponse is pushed in reply to a count request. Changed without a
// count means the server only signals that the value moved.
type CountResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
	Changed bool `json:"changed"`
}

// SendSuccess is pushed to a customer after their support message was
// stored.
type SendSuccess struct {
	Message json.RawMessage `json:"message"`
}

// AckResult is the reply to a publish that requested an ack.
type AckResult struct {
	Success bool            `json:"success"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}
