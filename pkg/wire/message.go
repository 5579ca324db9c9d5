// Package wire defines the canonical swarm message format: the JSON
// wire shape, parse-time validation, and the bridge to the signing
// payload. Everything agents exchange over /swarm/message is a wire
// Message.
package wire

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentswarm/swarmgate/pkg/crypto"
	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

const (
	ProtocolVersion = "0.1.0"

	// Broadcast is the recipient value addressing every swarm member.
	Broadcast = "broadcast"

	// MaxContentLength is the maximum content size in characters.
	MaxContentLength = 65536
)

// Message types.
const (
	TypeMessage      = "message"
	TypeSystem       = "system"
	TypeNotification = "notification"
)

// Priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Sender identifies the originating agent.
type Sender struct {
	AgentID  string `json:"agent_id"`
	Endpoint string `json:"endpoint"`
}

// Attachment is inline or referenced auxiliary content.
type Attachment struct {
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Content  string `json:"content"`
}

// Reference links a message to external artifacts (issues, commits, URLs).
type Reference struct {
	Type   string `json:"type"`
	Repo   string `json:"repo,omitempty"`
	Number int    `json:"number,omitempty"`
	SHA    string `json:"sha,omitempty"`
	URL    string `json:"url,omitempty"`
	Action string `json:"action,omitempty"`
}

// Message is a validated swarm protocol message.
type Message struct {
	ProtocolVersion string
	MessageID       string
	Timestamp       time.Time
	Sender          Sender
	Recipient       string
	SwarmID         string
	Type            string
	Content         string
	Signature       string
	InReplyTo       string
	ThreadID        string
	Priority        string
	ExpiresAt       *time.Time
	Attachments     []Attachment
	References      []Reference
	Metadata        map[string]any
}

// wireMessage is the raw JSON shape. Optional fields that equal their
// defaults are omitted on encode.
type wireMessage struct {
	ProtocolVersion string         `json:"protocol_version"`
	MessageID       string         `json:"message_id"`
	Timestamp       string         `json:"timestamp"`
	Sender          Sender         `json:"sender"`
	Recipient       string         `json:"recipient"`
	SwarmID         string         `json:"swarm_id"`
	Type            string         `json:"type"`
	Content         string         `json:"content"`
	Signature       string         `json:"signature"`
	InReplyTo       string         `json:"in_reply_to,omitempty"`
	ThreadID        string         `json:"thread_id,omitempty"`
	Priority        string         `json:"priority,omitempty"`
	ExpiresAt       string         `json:"expires_at,omitempty"`
	Attachments     []Attachment   `json:"attachments,omitempty"`
	References      []Reference    `json:"references,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// New builds an unsigned message with generated id and current timestamp.
func New(sender Sender, recipient, swarmID, messageType, content string) *Message {
	return &Message{
		ProtocolVersion: ProtocolVersion,
		MessageID:       uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Sender:          sender,
		Recipient:       recipient,
		SwarmID:         swarmID,
		Type:            messageType,
		Content:         content,
		Priority:        PriorityNormal,
	}
}

// Parse decodes and validates a wire message. All violations surface as
// format errors.
func Parse(data []byte) (*Message, error) {
	var raw wireMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errdefs.Wrap(errdefs.KindFormat, err, "invalid message JSON")
	}
	return fromWire(&raw)
}

func fromWire(raw *wireMessage) (*Message, error) {
	if !versionPattern.MatchString(raw.ProtocolVersion) {
		return nil, errdefs.New(errdefs.KindFormat, "invalid protocol_version %q", raw.ProtocolVersion)
	}
	if _, err := uuid.Parse(raw.MessageID); err != nil {
		return nil, errdefs.New(errdefs.KindFormat, "message_id is not a UUID")
	}
	if _, err := uuid.Parse(raw.SwarmID); err != nil {
		return nil, errdefs.New(errdefs.KindFormat, "swarm_id is not a UUID")
	}
	if raw.Sender.AgentID == "" {
		return nil, errdefs.New(errdefs.KindFormat, "sender.agent_id is required")
	}
	if !strings.HasPrefix(raw.Sender.Endpoint, "https://") {
		return nil, errdefs.New(errdefs.KindFormat, "sender.endpoint must use https")
	}
	if raw.Recipient == "" {
		return nil, errdefs.New(errdefs.KindFormat, "recipient is required")
	}
	switch raw.Type {
	case TypeMessage, TypeSystem, TypeNotification:
	default:
		return nil, errdefs.New(errdefs.KindFormat, "unknown message type %q", raw.Type)
	}
	if len(raw.Content) > MaxContentLength {
		return nil, errdefs.New(errdefs.KindFormat, "content exceeds %d characters", MaxContentLength)
	}

	ts, err := ParseWireTime(raw.Timestamp)
	if err != nil {
		return nil, errdefs.New(errdefs.KindFormat, "invalid timestamp %q", raw.Timestamp)
	}

	msg := &Message{
		ProtocolVersion: raw.ProtocolVersion,
		MessageID:       raw.MessageID,
		Timestamp:       ts,
		Sender:          raw.Sender,
		Recipient:       raw.Recipient,
		SwarmID:         raw.SwarmID,
		Type:            raw.Type,
		Content:         raw.Content,
		Signature:       raw.Signature,
		Priority:        raw.Priority,
		Attachments:     raw.Attachments,
		References:      raw.References,
		Metadata:        raw.Metadata,
	}
	if msg.Priority == "" {
		msg.Priority = PriorityNormal
	}
	switch msg.Priority {
	case PriorityLow, PriorityNormal, PriorityHigh:
	default:
		return nil, errdefs.New(errdefs.KindFormat, "unknown priority %q", msg.Priority)
	}

	if raw.InReplyTo != "" {
		if _, err := uuid.Parse(raw.InReplyTo); err != nil {
			return nil, errdefs.New(errdefs.KindFormat, "in_reply_to is not a UUID")
		}
		msg.InReplyTo = raw.InReplyTo
	}
	if raw.ThreadID != "" {
		if _, err := uuid.Parse(raw.ThreadID); err != nil {
			return nil, errdefs.New(errdefs.KindFormat, "thread_id is not a UUID")
		}
		msg.ThreadID = raw.ThreadID
	}
	if raw.ExpiresAt != "" {
		exp, err := ParseWireTime(raw.ExpiresAt)
		if err != nil {
			return nil, errdefs.New(errdefs.KindFormat, "invalid expires_at %q", raw.ExpiresAt)
		}
		msg.ExpiresAt = &exp
	}
	return msg, nil
}

// Encode serializes the message to its wire JSON, omitting optional
// fields that equal their defaults.
func (m *Message) Encode() ([]byte, error) {
	raw := wireMessage{
		ProtocolVersion: m.ProtocolVersion,
		MessageID:       m.MessageID,
		Timestamp:       FormatWireTime(m.Timestamp),
		Sender:          m.Sender,
		Recipient:       m.Recipient,
		SwarmID:         m.SwarmID,
		Type:            m.Type,
		Content:         m.Content,
		Signature:       m.Signature,
		InReplyTo:       m.InReplyTo,
		ThreadID:        m.ThreadID,
		Attachments:     m.Attachments,
		References:      m.References,
		Metadata:        m.Metadata,
	}
	if m.Priority != "" && m.Priority != PriorityNormal {
		raw.Priority = m.Priority
	}
	if m.ExpiresAt != nil {
		raw.ExpiresAt = FormatWireTime(*m.ExpiresAt)
	}
	return json.Marshal(raw)
}

// SigningPayload returns the canonical payload the signature covers.
func (m *Message) SigningPayload() []byte {
	return crypto.SigningPayload(m.MessageID, m.Timestamp, m.SwarmID, m.Recipient, m.Type, m.Content)
}

// FormatWireTime renders a timestamp in the wire format (millisecond
// precision, Z suffix).
func FormatWireTime(t time.Time) string {
	return t.UTC().Format(crypto.WireTimeFormat)
}

// ParseWireTime accepts the wire format plus RFC3339 variants.
func ParseWireTime(s string) (time.Time, error) {
	if t, err := time.Parse(crypto.WireTimeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
