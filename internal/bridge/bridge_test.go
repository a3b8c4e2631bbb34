package bridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildstream/guildstream/internal/bridge"
	"github.com/guildstream/guildstream/internal/engine"
	"github.com/guildstream/guildstream/internal/gateway"
	"github.com/guildstream/guildstream/internal/mention"
	"github.com/guildstream/guildstream/internal/stream"
)

type sentMessage struct {
	channelID string
	content   string
	replyTo   string
}

// fakeSession scripts the platform side and captures outbound calls.
type fakeSession struct {
	mu       sync.Mutex
	handlers gateway.Handlers
	windows  map[string][]*discordgo.Message

	sent      []sentMessage
	sendErr   error
	typing    []string
	created   []*discordgo.ApplicationCommand
	deleted   []string
	responses int
	followUps int
	channels  []*discordgo.Channel
	members   []*discordgo.Member
	roles     []*discordgo.Role
}

func (s *fakeSession) Open() error  { return nil }
func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) Bind(h gateway.Handlers) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = h
	return func() {}
}

func (s *fakeSession) ready(botID, botName string) {
	s.mu.Lock()
	h := s.handlers
	s.mu.Unlock()
	if h.Ready != nil {
		h.Ready(botID, botName)
	}
}

func (s *fakeSession) ChannelMessages(ctx context.Context, channelID string, limit int, afterID string) ([]*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[channelID], nil
}

func (s *fakeSession) SendMessage(ctx context.Context, channelID, content, replyToID string) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sent = append(s.sent, sentMessage{channelID: channelID, content: content, replyTo: replyToID})
	return &discordgo.Message{ID: "out-1", ChannelID: channelID, Content: content}, nil
}

func (s *fakeSession) Typing(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, channelID)
	return nil
}

func (s *fakeSession) CommandCreate(ctx context.Context, guildID string, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := &discordgo.ApplicationCommand{ID: "cmd-" + cmd.Name, Name: cmd.Name, Description: cmd.Description}
	s.created = append(s.created, created)
	return created, nil
}

func (s *fakeSession) CommandDelete(ctx context.Context, guildID, commandID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, commandID)
	return nil
}

func (s *fakeSession) Respond(ctx context.Context, interaction *discordgo.Interaction, content string, ephemeral bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses++
	return nil
}

func (s *fakeSession) FollowUp(ctx context.Context, interaction *discordgo.Interaction, content string, ephemeral bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followUps++
	return nil
}

func (s *fakeSession) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	return s.channels, nil
}

func (s *fakeSession) SearchMembers(ctx context.Context, guildID, query string, limit int) ([]*discordgo.Member, error) {
	return s.members, nil
}

func (s *fakeSession) ListMembers(ctx context.Context, guildID, after string, limit int) ([]*discordgo.Member, error) {
	if after != "" {
		return nil, nil
	}
	return s.members, nil
}

func (s *fakeSession) ListRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	return s.roles, nil
}

func (s *fakeSession) sentMessages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

type fixture struct {
	bridge  *bridge.Bridge
	session *fakeSession
	sink    *stream.Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	session := &fakeSession{windows: map[string][]*discordgo.Message{}}
	sink := stream.NewCollector()
	cache := mention.NewCache()
	resolver := mention.NewResolver(cache, bridge.NewDirectory(session), nil, time.Second)
	eng := engine.New(resolver, sink, session, engine.Options{Scrollback: 10})
	b := bridge.New(session, eng, resolver, sink, bridge.Options{GuildID: "g1"})
	t.Cleanup(func() { _ = b.Stop() })
	return &fixture{bridge: b, session: session, sink: sink}
}

func (f *fixture) startAuthenticated(t *testing.T) {
	t.Helper()
	require.NoError(t, f.bridge.Start())
	f.session.ready("bot-1", "streambot")
	waitFor(t, func() bool { return f.bridge.Status() == gateway.StatusAuthenticated })
}

func TestReadyEmitsConnectedAndDrains(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bridge.Start())

	// Enqueued before authentication: held, not sent.
	f.bridge.Send("c1", "hello", "")
	assert.Empty(t, f.session.sentMessages())
	assert.Equal(t, 1, f.bridge.QueueDepth())

	f.session.ready("bot-1", "streambot")

	waitFor(t, func() bool { return len(f.session.sentMessages()) == 1 })
	connected := f.sink.OfKind(stream.KindConnected)
	require.Len(t, connected, 1)
	assert.Equal(t, "bot-1", connected[0].Connected.BotID)

	id, name := f.bridge.BotIdentity()
	assert.Equal(t, "bot-1", id)
	assert.Equal(t, "streambot", name)
}

func TestJoinBackfillsHistory(t *testing.T) {
	f := newFixture(t)
	f.session.windows["c1"] = []*discordgo.Message{
		{ID: "200", ChannelID: "c1", Content: "two", Author: &discordgo.User{ID: "u1", Username: "alice"}},
		{ID: "100", ChannelID: "c1", Content: "one", Author: &discordgo.User{ID: "u1", Username: "alice"}},
	}
	f.startAuthenticated(t)

	f.bridge.Join("c1", "general")

	waitFor(t, func() bool { return len(f.sink.OfKind(stream.KindMessageAdded)) == 2 })
	require.Len(t, f.sink.OfKind(stream.KindChannelJoined), 1)
	for _, fact := range f.sink.OfKind(stream.KindMessageAdded) {
		assert.True(t, fact.MessageAdded.IsHistory)
	}

	states := f.bridge.ChannelStates()
	require.Len(t, states, 1)
	assert.Equal(t, "200", states[0].Cursor)
}

func TestSendResolvesMentions(t *testing.T) {
	f := newFixture(t)
	f.session.members = []*discordgo.Member{
		{User: &discordgo.User{ID: "42", Username: "alice"}},
	}
	f.startAuthenticated(t)

	f.bridge.Send("c1", "ping @alice", "")

	waitFor(t, func() bool { return len(f.session.sentMessages()) == 1 })
	assert.Equal(t, "ping <@42>", f.session.sentMessages()[0].content)
}

func TestSendFailureEmitsCommandFailed(t *testing.T) {
	f := newFixture(t)
	f.session.sendErr = errors.New("channel archived")
	f.startAuthenticated(t)

	id := f.bridge.Send("c1", "hello", "")

	waitFor(t, func() bool { return len(f.sink.OfKind(stream.KindCommandFailed)) == 1 })
	failed := f.sink.OfKind(stream.KindCommandFailed)[0].CommandFailed
	assert.Equal(t, id, failed.CommandID)
	assert.Equal(t, "send", failed.Op)
	assert.Contains(t, failed.Reason, "channel archived")
}

func TestSlashCommandRegisterAndUnregister(t *testing.T) {
	f := newFixture(t)
	f.startAuthenticated(t)

	f.bridge.RegisterSlashCommand("deploy", "trigger a deploy", nil)
	f.bridge.UnregisterSlashCommand("deploy")

	waitFor(t, func() bool {
		f.session.mu.Lock()
		defer f.session.mu.Unlock()
		return len(f.session.deleted) == 1
	})
	assert.Equal(t, []string{"cmd-deploy"}, f.session.deleted)
}

func TestUnregisterUnknownCommandFails(t *testing.T) {
	f := newFixture(t)
	f.startAuthenticated(t)

	f.bridge.UnregisterSlashCommand("ghost")

	waitFor(t, func() bool { return len(f.sink.OfKind(stream.KindCommandFailed)) == 1 })
	assert.Equal(t, "unregister_command", f.sink.OfKind(stream.KindCommandFailed)[0].CommandFailed.Op)
}

func TestInteractionRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.startAuthenticated(t)

	f.session.handlers.InteractionCreate(&discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "i1",
			Type:      discordgo.InteractionApplicationCommand,
			ChannelID: "c1",
			Data:      discordgo.ApplicationCommandInteractionData{Name: "deploy"},
		},
	})

	received := f.sink.OfKind(stream.KindInteractionReceived)
	require.Len(t, received, 1)
	assert.Equal(t, "command", received[0].InteractionReceived.Kind)
	assert.Equal(t, "deploy", received[0].InteractionReceived.Payload["command"])
	assert.Equal(t, 1, f.bridge.PendingInteractions())

	f.bridge.ReplyToInteraction("i1", "on it", false)
	f.bridge.ReplyToInteraction("i1", "done", false)

	waitFor(t, func() bool {
		f.session.mu.Lock()
		defer f.session.mu.Unlock()
		return f.session.responses == 1 && f.session.followUps == 1
	})
}

func TestLiveMessageFlowsToSink(t *testing.T) {
	f := newFixture(t)
	f.startAuthenticated(t)

	f.bridge.Join("c1", "general")
	waitFor(t, func() bool { return len(f.bridge.ChannelStates()) == 1 })

	f.session.handlers.MessageCreate(&discordgo.Message{
		ID:        "100",
		ChannelID: "c1",
		Content:   "hello",
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
	})

	added := f.sink.OfKind(stream.KindMessageAdded)
	require.Len(t, added, 1)
	assert.False(t, added[0].MessageAdded.IsHistory)
}

func TestDisconnectPausesQueue(t *testing.T) {
	f := newFixture(t)
	f.startAuthenticated(t)

	f.session.handlers.Disconnect()
	waitFor(t, func() bool { return f.bridge.Status() == gateway.StatusDegraded })

	f.bridge.Send("c1", "held", "")
	// Give the pump a moment; nothing must go out while degraded.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.session.sentMessages())
	assert.Equal(t, 1, f.bridge.QueueDepth())

	f.session.ready("bot-1", "streambot")
	waitFor(t, func() bool { return len(f.session.sentMessages()) == 1 })
}
