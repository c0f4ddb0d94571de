package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topics exchanged between interfaces and the butler.
const (
	TopicInterfaceInput  = "interface.input"
	TopicInterfaceOutput = "interface.output"
)

// Locations tell the butler how a request reached the bridge, and the bridge how to deliver a reply.
const (
	LocationPublic  = "irc public message"
	LocationPrivate = "irc private message"
)

// MediaIRC is the media tag carried by every event that belongs to the IRC bridge.
const MediaIRC = "irc"

// ValidLocation reports whether location is one of the two IRC location constants.
func ValidLocation(location string) bool {
	return location == LocationPublic || location == LocationPrivate
}

// Context holds what an interface knows about who said something, where, and how.
type Context struct {
	Media    string `json:"media"`
	Location string `json:"location"`
	Identity string `json:"identity"`
	Mood     string `json:"mood"`
	Sex      string `json:"sex"`
}

// With returns a copy of c for one request, leaving the template untouched.
func (c Context) With(identity string, location string) Context {
	c.Identity = identity
	c.Location = location
	return c
}

// InboundEvent is a user request published on interface.input.
type InboundEvent struct {
	Context
	Text string `json:"text"`
}

// OutboundEvent is a butler reply received on interface.output.
type OutboundEvent struct {
	Text     string `json:"text"`
	Location string `json:"location"`
	ReplyTo  string `json:"reply_to,omitempty"`
	Media    string `json:"media"`
}

// Message is the envelope carried on the bus and over the wire.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"msgid"`
	Sender  string          `json:"sender,omitempty"`
	At      time.Time       `json:"at"`
	Content json.RawMessage `json:"content"`
}

// NewMessage encodes content into an envelope for topic.
func NewMessage(topic string, sender string, content any) (Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s content: %w", topic, err)
	}

	return Message{
		ID:      newMessageID(),
		Topic:   topic,
		Sender:  sender,
		At:      time.Now().UTC(),
		Content: raw,
	}, nil
}

// DecodeOutbound extracts an OutboundEvent from an interface.output message.
func (m Message) DecodeOutbound() (OutboundEvent, error) {
	if m.Topic != TopicInterfaceOutput {
		return OutboundEvent{}, fmt.Errorf("unexpected topic %q", m.Topic)
	}

	var event OutboundEvent
	if err := json.Unmarshal(m.Content, &event); err != nil {
		return OutboundEvent{}, fmt.Errorf("decode %s content: %w", m.Topic, err)
	}

	return event, nil
}

// DecodeInbound extracts an InboundEvent from an interface.input message.
func (m Message) DecodeInbound() (InboundEvent, error) {
	if m.Topic != TopicInterfaceInput {
		return InboundEvent{}, fmt.Errorf("unexpected topic %q", m.Topic)
	}

	var event InboundEvent
	if err := json.Unmarshal(m.Content, &event); err != nil {
		return InboundEvent{}, fmt.Errorf("decode %s content: %w", m.Topic, err)
	}

	return event, nil
}
