// Package envelope defines the typed record that carries one platform event
// across every subsystem, together with its JSON wire codec.
package envelope

import (
	"fmt"
)

// SchemaVersion is the current envelope wire schema. Decoding an older
// version runs the registered upgrade hooks before validation.
const SchemaVersion = 2

// Direction indicates which way an envelope is travelling.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MessageType classifies the conversation an envelope belongs to.
type MessageType string

const (
	MessageTypePrivate MessageType = "private"
	MessageTypeGroup   MessageType = "group"
	MessageTypeNotice  MessageType = "notice"
	MessageTypeMeta    MessageType = "meta"
)

// SegmentType is the kind tag of one message segment.
type SegmentType string

const (
	SegText    SegmentType = "text"
	SegImage   SegmentType = "image"
	SegAt      SegmentType = "at"
	SegFace    SegmentType = "face"
	SegReply   SegmentType = "reply"
	SegForward SegmentType = "forward"
	SegVoice   SegmentType = "voice"
	SegVideo   SegmentType = "video"
	SegFile    SegmentType = "file"
	SegCommand SegmentType = "command"
	SegSeglist SegmentType = "seglist"
)

// UserInfo identifies the sender of a message.
type UserInfo struct {
	// ID is the platform-assigned user identifier.
	ID string `json:"user_id"`

	// Name is the account name, if known.
	Name string `json:"user_nickname,omitempty"`

	// Display is the per-group display name, if any.
	Display string `json:"user_cardname,omitempty"`
}

// GroupInfo identifies the group a message was sent in.
type GroupInfo struct {
	// ID is the platform-assigned group identifier.
	ID string `json:"group_id"`

	// Name is the group title, if known.
	Name string `json:"group_name,omitempty"`
}

// MessageInfo carries sender identity and conversation metadata.
type MessageInfo struct {
	// Type is the message kind (private, group, notice, meta).
	Type MessageType `json:"message_type"`

	// User is the sender. Required for private and group messages.
	User *UserInfo `json:"user_info,omitempty"`

	// Group is set for group messages only.
	Group *GroupInfo `json:"group_info,omitempty"`

	// SelfID is the bot's own platform identifier.
	SelfID string `json:"self_id,omitempty"`

	// ToMe is true when the message mentions or replies to the bot.
	ToMe bool `json:"to_me,omitempty"`
}

// Segment is one node of the message content tree. A "seglist" segment
// holds an ordered sequence of children; every other type carries a
// type-specific Data payload.
type Segment struct {
	Type SegmentType `json:"type"`

	// Data is the payload for leaf segments: the text for SegText, a URL
	// or base64 blob for SegImage, the target user id for SegAt, and so on.
	Data string `json:"data,omitempty"`

	// Children is populated only for SegSeglist.
	Children []Segment `json:"segments,omitempty"`
}

// Envelope is the universal inter-subsystem record. Envelopes are immutable
// after ingestion: subsystems share the value and never mutate it.
type Envelope struct {
	SchemaVersion int         `json:"schema_version"`
	Direction     Direction   `json:"direction"`
	Platform      string      `json:"platform"`
	MessageID     string      `json:"message_id,omitempty"`
	TimestampMs   int64       `json:"timestamp_ms"`
	Info          MessageInfo `json:"message_info"`
	Segment       Segment     `json:"message_segment"`

	// RawMessage is the original platform-rendered string, when available.
	RawMessage string `json:"raw_message,omitempty"`
}

// StreamID derives the conversation stream key for this envelope:
// platform + group id for group messages, platform + user id otherwise.
func (e *Envelope) StreamID() string {
	if e.Info.Group != nil && e.Info.Group.ID != "" {
		return fmt.Sprintf("%s:group:%s", e.Platform, e.Info.Group.ID)
	}
	if e.Info.User != nil {
		return fmt.Sprintf("%s:private:%s", e.Platform, e.Info.User.ID)
	}
	return fmt.Sprintf("%s:system", e.Platform)
}

// PlainText flattens the segment tree into the concatenation of all text
// segment payloads, in order.
func (e *Envelope) PlainText() string {
	return collectText(e.Segment)
}

func collectText(seg Segment) string {
	if seg.Type == SegText {
		return seg.Data
	}
	if seg.Type != SegSeglist {
		return ""
	}
	var out string
	for _, child := range seg.Children {
		out += collectText(child)
	}
	return out
}

// Text builds a single text segment.
func Text(s string) Segment {
	return Segment{Type: SegText, Data: s}
}

// Seglist builds a seglist segment from the given children.
func Seglist(children ...Segment) Segment {
	return Segment{Type: SegSeglist, Children: children}
}

// Validate checks the structural invariants: a known direction, a platform
// tag, a sane segment tree, and a sender for private/group messages.
func (e *Envelope) Validate() error {
	if e.Direction != DirectionIncoming && e.Direction != DirectionOutgoing {
		return fmt.Errorf("%w: direction %q", ErrBadEnvelope, e.Direction)
	}
	if e.Platform == "" {
		return fmt.Errorf("%w: missing platform", ErrBadEnvelope)
	}
	switch e.Info.Type {
	case MessageTypePrivate, MessageTypeGroup:
		if e.Info.User == nil || e.Info.User.ID == "" {
			return fmt.Errorf("%w: missing user info", ErrBadEnvelope)
		}
	case MessageTypeNotice, MessageTypeMeta:
	default:
		return fmt.Errorf("%w: message type %q", ErrBadEnvelope, e.Info.Type)
	}
	if err := validateSegment(e.Segment, 0); err != nil {
		return err
	}
	return nil
}

// maxSegmentDepth bounds seglist nesting. The tree is built by decoding
// JSON so it cannot cycle, but adapters have produced pathological nesting.
const maxSegmentDepth = 16

func validateSegment(seg Segment, depth int) error {
	if depth > maxSegmentDepth {
		return fmt.Errorf("%w: segment nesting exceeds %d", ErrBadEnvelope, maxSegmentDepth)
	}
	switch seg.Type {
	case SegText, SegImage, SegAt, SegFace, SegReply, SegForward,
		SegVoice, SegVideo, SegFile, SegCommand:
		return nil
	case SegSeglist:
		for _, child := range seg.Children {
			if err := validateSegment(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: segment type %q", ErrBadEnvelope, seg.Type)
	}
}
