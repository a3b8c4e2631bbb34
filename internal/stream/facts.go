// Package stream defines the normalized fact stream the engine emits to the
// downstream materialized-state store, and the sinks that carry it.
package stream

import "time"

// Kind identifies the fact variant. Exactly one payload pointer on Fact is
// non-nil for each kind.
type Kind string

const (
	KindConnected           Kind = "connected"
	KindMessageAdded        Kind = "message_added"
	KindMessageEdited       Kind = "message_edited"
	KindMessageDeleted      Kind = "message_deleted"
	KindChannelJoined       Kind = "channel_joined"
	KindChannelLeft         Kind = "channel_left"
	KindInteractionReceived Kind = "interaction_received"
	KindCommandFailed       Kind = "command_failed"
)

// Entity is a resolved (ID, name) pair for a user, channel, or role.
type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Mentions is the structured mention metadata extracted from a message.
type Mentions struct {
	Users    []Entity `json:"users,omitempty"`
	Channels []Entity `json:"channels,omitempty"`
	Roles    []Entity `json:"roles,omitempty"`
}

// IsEmpty reports whether no mentions were extracted.
func (m Mentions) IsEmpty() bool {
	return len(m.Users) == 0 && len(m.Channels) == 0 && len(m.Roles) == 0
}

// MentionsUser reports whether the given user ID appears in the user mentions.
func (m Mentions) MentionsUser(id string) bool {
	for _, u := range m.Users {
		if u.ID == id {
			return true
		}
	}
	return false
}

// Author identifies the sender of a message.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Bot  bool   `json:"bot,omitempty"`
}

// Connected is emitted after a successful (re)authentication. BotID lets
// consumers recognize self-authored messages and "am I mentioned" checks.
type Connected struct {
	BotID   string `json:"bot_id"`
	BotName string `json:"bot_name,omitempty"`
}

// MessageAdded is a genuinely new message. IsHistory marks messages that
// arrived through a history fetch rather than a live push, so consumers can
// suppress behaviors meant only for fresh messages.
type MessageAdded struct {
	ChannelID string   `json:"channel_id"`
	MessageID string   `json:"message_id"`
	Author    Author   `json:"author"`
	Text      string   `json:"text"`
	RawText   string   `json:"raw_text"`
	Mentions  Mentions `json:"mentions"`
	ReplyTo   string   `json:"reply_to,omitempty"`
	IsHistory bool     `json:"is_history,omitempty"`
}

// MessageEdited carries both the previously observed text and the new text.
// OldText is empty when the prior content was never observed locally.
type MessageEdited struct {
	ChannelID string   `json:"channel_id"`
	MessageID string   `json:"message_id"`
	OldText   string   `json:"old_text,omitempty"`
	NewText   string   `json:"new_text"`
	Mentions  Mentions `json:"mentions"`
}

// MessageDeleted marks a message as removed, whether observed live or
// inferred by reconciliation after a disconnect.
type MessageDeleted struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// ChannelJoined confirms a channel subscription.
type ChannelJoined struct {
	ChannelID string `json:"channel_id"`
	Name      string `json:"name,omitempty"`
}

// ChannelLeft confirms a channel unsubscription.
type ChannelLeft struct {
	ChannelID string `json:"channel_id"`
}

// InteractionReceived is a slash command or button click awaiting a reply.
type InteractionReceived struct {
	InteractionID string         `json:"interaction_id"`
	Kind          string         `json:"kind"`
	ChannelID     string         `json:"channel_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// CommandFailed reports a rejected outbound command. The engine never retries;
// retry policy belongs to the caller.
type CommandFailed struct {
	CommandID string `json:"command_id"`
	Op        string `json:"op"`
	ChannelID string `json:"channel_id,omitempty"`
	Reason    string `json:"reason"`
}

// Fact is the tagged union delivered to sinks.
type Fact struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	Connected           *Connected           `json:"connected,omitempty"`
	MessageAdded        *MessageAdded        `json:"message_added,omitempty"`
	MessageEdited       *MessageEdited       `json:"message_edited,omitempty"`
	MessageDeleted      *MessageDeleted      `json:"message_deleted,omitempty"`
	ChannelJoined       *ChannelJoined       `json:"channel_joined,omitempty"`
	ChannelLeft         *ChannelLeft         `json:"channel_left,omitempty"`
	InteractionReceived *InteractionReceived `json:"interaction_received,omitempty"`
	CommandFailed       *CommandFailed       `json:"command_failed,omitempty"`
}

// NewFact stamps a fact of the given kind with the current time.
func NewFact(kind Kind) Fact {
	return Fact{Kind: kind, Time: time.Now().UTC()}
}
