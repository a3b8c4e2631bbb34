// Package gateway owns the platform connection: the transport session, the
// reconnecting state machine, the serialized command queue, and the
// interaction reply router.
package gateway

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Handlers receives the events the engine consumes. Any nil field is skipped.
type Handlers struct {
	Ready             func(botID, botName string)
	Disconnect        func()
	MessageCreate     func(m *discordgo.Message)
	MessageUpdate     func(m *discordgo.Message)
	MessageDelete     func(channelID, messageID string)
	InteractionCreate func(ic *discordgo.InteractionCreate)
}

// Session is the narrow slice of the platform client the engine depends on.
// The REST methods take a context so history fetches and directory lookups
// run under the caller's deadline.
type Session interface {
	Open() error
	Close() error
	// Bind registers the event handlers and returns a remover.
	Bind(h Handlers) func()

	ChannelMessages(ctx context.Context, channelID string, limit int, afterID string) ([]*discordgo.Message, error)
	SendMessage(ctx context.Context, channelID, content, replyToID string) (*discordgo.Message, error)
	Typing(ctx context.Context, channelID string) error
	CommandCreate(ctx context.Context, guildID string, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error)
	CommandDelete(ctx context.Context, guildID, commandID string) error
	Respond(ctx context.Context, interaction *discordgo.Interaction, content string, ephemeral bool) error
	FollowUp(ctx context.Context, interaction *discordgo.Interaction, content string, ephemeral bool) error

	GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error)
	SearchMembers(ctx context.Context, guildID, query string, limit int) ([]*discordgo.Member, error)
	ListMembers(ctx context.Context, guildID, after string, limit int) ([]*discordgo.Member, error)
	ListRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
}

// DiscordSession adapts a discordgo session to the Session interface.
// Automatic reconnection in the library is disabled; the Conn state machine
// owns that policy.
type DiscordSession struct {
	raw *discordgo.Session
}

// NewDiscordSession creates a gateway session for the given bot token.
func NewDiscordSession(token string) (*DiscordSession, error) {
	raw, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	raw.Identify.Intents = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentMessageContent |
		discordgo.IntentGuildMembers
	raw.ShouldReconnectOnError = false
	// Dispatch handlers on the event loop goroutine; per-channel ordering
	// depends on it.
	raw.SyncEvents = true
	return &DiscordSession{raw: raw}, nil
}

func (s *DiscordSession) Open() error {
	return s.raw.Open()
}

func (s *DiscordSession) Close() error {
	// Normal closure so the platform does not hold the session for resume.
	return s.raw.CloseWithCode(1000)
}

func (s *DiscordSession) Bind(h Handlers) func() {
	removers := []func(){
		s.raw.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			if h.Ready != nil && r.User != nil {
				h.Ready(r.User.ID, r.User.Username)
			}
		}),
		s.raw.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			if h.Disconnect != nil {
				h.Disconnect()
			}
		}),
		s.raw.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			if h.MessageCreate != nil {
				h.MessageCreate(m.Message)
			}
		}),
		s.raw.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
			if h.MessageUpdate != nil {
				h.MessageUpdate(m.Message)
			}
		}),
		s.raw.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) {
			if h.MessageDelete != nil {
				h.MessageDelete(m.ChannelID, m.ID)
			}
		}),
		s.raw.AddHandler(func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
			if h.InteractionCreate != nil {
				h.InteractionCreate(ic)
			}
		}),
	}
	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}

func (s *DiscordSession) ChannelMessages(ctx context.Context, channelID string, limit int, afterID string) ([]*discordgo.Message, error) {
	return s.raw.ChannelMessages(channelID, limit, "", afterID, "", discordgo.WithContext(ctx))
}

func (s *DiscordSession) SendMessage(ctx context.Context, channelID, content, replyToID string) (*discordgo.Message, error) {
	if replyToID != "" {
		return s.raw.ChannelMessageSendReply(channelID, content, &discordgo.MessageReference{
			ChannelID: channelID,
			MessageID: replyToID,
		}, discordgo.WithContext(ctx))
	}
	return s.raw.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
}

func (s *DiscordSession) Typing(ctx context.Context, channelID string) error {
	return s.raw.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

func (s *DiscordSession) CommandCreate(ctx context.Context, guildID string, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error) {
	appID := s.applicationID()
	if appID == "" {
		return nil, fmt.Errorf("application id unknown before authentication")
	}
	return s.raw.ApplicationCommandCreate(appID, guildID, cmd, discordgo.WithContext(ctx))
}

func (s *DiscordSession) CommandDelete(ctx context.Context, guildID, commandID string) error {
	appID := s.applicationID()
	if appID == "" {
		return fmt.Errorf("application id unknown before authentication")
	}
	return s.raw.ApplicationCommandDelete(appID, guildID, commandID, discordgo.WithContext(ctx))
}

func (s *DiscordSession) Respond(ctx context.Context, interaction *discordgo.Interaction, content string, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.raw.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}, discordgo.WithContext(ctx))
}

func (s *DiscordSession) FollowUp(ctx context.Context, interaction *discordgo.Interaction, content string, ephemeral bool) error {
	params := &discordgo.WebhookParams{Content: content}
	if ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	_, err := s.raw.FollowupMessageCreate(interaction, true, params, discordgo.WithContext(ctx))
	return err
}

func (s *DiscordSession) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	return s.raw.GuildChannels(guildID, discordgo.WithContext(ctx))
}

func (s *DiscordSession) SearchMembers(ctx context.Context, guildID, query string, limit int) ([]*discordgo.Member, error) {
	return s.raw.GuildMembersSearch(guildID, query, limit, discordgo.WithContext(ctx))
}

func (s *DiscordSession) ListMembers(ctx context.Context, guildID, after string, limit int) ([]*discordgo.Member, error) {
	return s.raw.GuildMembers(guildID, after, limit, discordgo.WithContext(ctx))
}

func (s *DiscordSession) ListRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	return s.raw.GuildRoles(guildID, discordgo.WithContext(ctx))
}

func (s *DiscordSession) applicationID() string {
	if s.raw.State != nil && s.raw.State.User != nil {
		return s.raw.State.User.ID
	}
	return ""
}
