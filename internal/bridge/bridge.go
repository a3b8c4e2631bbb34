// Package bridge is the composition root of the connection side: it wires the
// gateway state machine, the serialized command queue, the interaction router,
// and the ingestion engine into one facade the rest of the process talks to.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/guildstream/guildstream/internal/engine"
	"github.com/guildstream/guildstream/internal/gateway"
	"github.com/guildstream/guildstream/internal/mention"
	"github.com/guildstream/guildstream/internal/stream"
)

const defaultCommandTimeout = 30 * time.Second

// Options configures the bridge.
type Options struct {
	// GuildID scopes directory lookups and slash command registration.
	GuildID string
	// CommandTimeout bounds each outbound wire call. Zero means 30s.
	CommandTimeout time.Duration
	Conn           gateway.ConnOptions
	Logger         *slog.Logger
}

// Bridge owns the per-connection components and exposes the downstream
// command surface. All outbound operations go through the serialized queue;
// all inbound events flow through the engine into the fact sink.
type Bridge struct {
	logger   *slog.Logger
	session  gateway.Session
	engine   *engine.Engine
	resolver *mention.Resolver
	sink     stream.Sink
	queue    *gateway.Queue
	router   *gateway.InteractionRouter
	conn     *gateway.Conn

	guildID        string
	commandTimeout time.Duration

	mu         sync.Mutex
	commandIDs map[string]string // slash command name -> registered ID
}

// New wires a bridge over an already-built session, engine, and resolver.
func New(session gateway.Session, eng *engine.Engine, resolver *mention.Resolver, sink stream.Sink, opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	b := &Bridge{
		logger:         opts.Logger.With(slog.String("component", "bridge")),
		session:        session,
		engine:         eng,
		resolver:       resolver,
		sink:           sink,
		queue:          gateway.NewQueue(opts.Logger),
		router:         gateway.NewInteractionRouter(0, opts.Logger),
		guildID:        opts.GuildID,
		commandTimeout: opts.CommandTimeout,
		commandIDs:     make(map[string]string),
	}
	b.queue.SetExecutor(b.execute)
	b.conn = gateway.NewConn(session, gateway.Handlers{
		Ready:             b.onReady,
		Disconnect:        b.onDisconnect,
		MessageCreate:     b.onMessageCreate,
		MessageUpdate:     b.onMessageUpdate,
		MessageDelete:     b.onMessageDelete,
		InteractionCreate: b.onInteractionCreate,
	}, opts.Conn)
	return b
}

// Start opens the gateway connection.
func (b *Bridge) Start() error {
	return b.conn.Start()
}

// Stop drains the in-flight command, discards the rest, and closes the
// connection.
func (b *Bridge) Stop() error {
	b.queue.Stop()
	return b.conn.Stop()
}

// Join subscribes to a channel. The joined fact and the history backfill are
// emitted once the command executes.
func (b *Bridge) Join(channelID, name string) string {
	cmd := gateway.NewCommand(gateway.OpJoin)
	cmd.ChannelID = channelID
	cmd.Name = name
	b.queue.Enqueue(cmd)
	return cmd.ID
}

// Leave unsubscribes from a channel.
func (b *Bridge) Leave(channelID string) string {
	cmd := gateway.NewCommand(gateway.OpLeave)
	cmd.ChannelID = channelID
	b.queue.Enqueue(cmd)
	return cmd.ID
}

// Send posts a message. Readable @name and #name tokens in text are resolved
// to wire mentions before the send goes out; replyToID may be empty.
func (b *Bridge) Send(channelID, text, replyToID string) string {
	cmd := gateway.NewCommand(gateway.OpSend)
	cmd.ChannelID = channelID
	cmd.Text = text
	cmd.ReplyTo = replyToID
	b.queue.Enqueue(cmd)
	return cmd.ID
}

// SendTyping triggers the typing indicator in a channel.
func (b *Bridge) SendTyping(channelID string) string {
	cmd := gateway.NewCommand(gateway.OpTyping)
	cmd.ChannelID = channelID
	b.queue.Enqueue(cmd)
	return cmd.ID
}

// RegisterSlashCommand registers a guild-scoped slash command.
func (b *Bridge) RegisterSlashCommand(name, description string, options []*discordgo.ApplicationCommandOption) string {
	cmd := gateway.NewCommand(gateway.OpRegisterCommand)
	cmd.Name = name
	cmd.Desc = description
	cmd.Options = options
	b.queue.Enqueue(cmd)
	return cmd.ID
}

// UnregisterSlashCommand removes a previously registered slash command.
func (b *Bridge) UnregisterSlashCommand(name string) string {
	cmd := gateway.NewCommand(gateway.OpUnregisterCommand)
	cmd.Name = name
	b.queue.Enqueue(cmd)
	return cmd.ID
}

// ReplyToInteraction answers a tracked interaction. The first reply per
// interaction goes out as the initial response, later ones as follow-ups.
func (b *Bridge) ReplyToInteraction(interactionID, content string, ephemeral bool) string {
	cmd := gateway.NewCommand(gateway.OpInteractionReply)
	cmd.InteractionID = interactionID
	cmd.Content = content
	cmd.Ephemeral = ephemeral
	b.queue.Enqueue(cmd)
	return cmd.ID
}

// Status returns the connection lifecycle state.
func (b *Bridge) Status() gateway.Status {
	return b.conn.Status()
}

// Attempts returns the consecutive failed reconnect attempts.
func (b *Bridge) Attempts() int {
	return b.conn.Attempts()
}

// BotIdentity returns the authenticated bot user, empty before first auth.
func (b *Bridge) BotIdentity() (id, name string) {
	return b.conn.BotIdentity()
}

// QueueDepth returns the number of commands waiting to execute.
func (b *Bridge) QueueDepth() int {
	return b.queue.Depth()
}

// PendingInteractions returns the number of interactions awaiting a reply.
func (b *Bridge) PendingInteractions() int {
	return b.router.Pending()
}

// ChannelStates snapshots every joined channel.
func (b *Bridge) ChannelStates() []engine.ChannelState {
	return b.engine.ChannelStates()
}

func (b *Bridge) onReady(botID, botName string) {
	b.engine.SetBotIdentity(botID)

	fact := stream.NewFact(stream.KindConnected)
	fact.Connected = &stream.Connected{BotID: botID, BotName: botName}
	if err := b.sink.Emit(context.Background(), fact); err != nil {
		b.logger.Warn("fact emit failed", slog.String("kind", string(fact.Kind)), slog.Any("error", err))
	}

	b.queue.Drain()
	// Reconciliation runs off the event loop so held commands and fresh
	// events are not blocked behind the history fetches.
	go b.engine.ReconcileAll(context.Background())
}

func (b *Bridge) onDisconnect() {
	b.queue.Pause()
}

func (b *Bridge) onMessageCreate(m *discordgo.Message) {
	b.engine.HandleLiveMessage(context.Background(), m)
}

func (b *Bridge) onMessageUpdate(m *discordgo.Message) {
	b.engine.HandleLiveEdit(context.Background(), m)
}

func (b *Bridge) onMessageDelete(channelID, messageID string) {
	b.engine.HandleLiveDelete(context.Background(), channelID, messageID)
}

func (b *Bridge) onInteractionCreate(ic *discordgo.InteractionCreate) {
	if ic == nil || ic.Interaction == nil {
		return
	}
	b.router.Track(ic.Interaction)

	fact := stream.NewFact(stream.KindInteractionReceived)
	fact.InteractionReceived = &stream.InteractionReceived{
		InteractionID: ic.ID,
		Kind:          interactionKind(ic.Type),
		ChannelID:     ic.ChannelID,
		Payload:       interactionPayload(ic.Interaction),
	}
	if err := b.sink.Emit(context.Background(), fact); err != nil {
		b.logger.Warn("fact emit failed", slog.String("kind", string(fact.Kind)), slog.Any("error", err))
	}
}

// execute maps one queued command to its wire call. Runs on the queue's single
// worker, so at most one command is ever in flight. Failures emit a fact and
// never retry; retry policy belongs to the downstream consumer.
func (b *Bridge) execute(cmd gateway.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), b.commandTimeout)
	defer cancel()

	var err error
	switch cmd.Op {
	case gateway.OpJoin:
		b.engine.Join(ctx, cmd.ChannelID, cmd.Name)
	case gateway.OpLeave:
		b.engine.Leave(ctx, cmd.ChannelID)
	case gateway.OpSend:
		content := b.resolver.ResolveOutbound(ctx, cmd.Text, b.guildID)
		_, err = b.session.SendMessage(ctx, cmd.ChannelID, content, cmd.ReplyTo)
	case gateway.OpTyping:
		err = b.session.Typing(ctx, cmd.ChannelID)
	case gateway.OpRegisterCommand:
		err = b.registerCommand(ctx, cmd)
	case gateway.OpUnregisterCommand:
		err = b.unregisterCommand(ctx, cmd)
	case gateway.OpInteractionReply:
		err = b.router.Respond(ctx, b.session, cmd.InteractionID, cmd.Content, cmd.Ephemeral)
	default:
		b.logger.Error("unknown command op", slog.String("op", string(cmd.Op)))
		return
	}

	if err != nil {
		b.logger.Warn("command failed",
			slog.String("op", string(cmd.Op)),
			slog.String("command_id", cmd.ID),
			slog.Any("error", err),
		)
		fact := stream.NewFact(stream.KindCommandFailed)
		fact.CommandFailed = &stream.CommandFailed{
			CommandID: cmd.ID,
			Op:        string(cmd.Op),
			ChannelID: cmd.ChannelID,
			Reason:    err.Error(),
		}
		if emitErr := b.sink.Emit(context.Background(), fact); emitErr != nil {
			b.logger.Warn("fact emit failed", slog.String("kind", string(fact.Kind)), slog.Any("error", emitErr))
		}
	}
}

func (b *Bridge) registerCommand(ctx context.Context, cmd gateway.Command) error {
	created, err := b.session.CommandCreate(ctx, b.guildID, &discordgo.ApplicationCommand{
		Name:        cmd.Name,
		Description: cmd.Desc,
		Options:     cmd.Options,
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.commandIDs[cmd.Name] = created.ID
	b.mu.Unlock()
	b.logger.Info("slash command registered", slog.String("name", cmd.Name), slog.String("command_id", created.ID))
	return nil
}

func (b *Bridge) unregisterCommand(ctx context.Context, cmd gateway.Command) error {
	b.mu.Lock()
	id, ok := b.commandIDs[cmd.Name]
	if ok {
		delete(b.commandIDs, cmd.Name)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("slash command %q not registered", cmd.Name)
	}
	return b.session.CommandDelete(ctx, b.guildID, id)
}

func interactionKind(t discordgo.InteractionType) string {
	switch t {
	case discordgo.InteractionApplicationCommand:
		return "command"
	case discordgo.InteractionMessageComponent:
		return "component"
	case discordgo.InteractionModalSubmit:
		return "modal"
	case discordgo.InteractionApplicationCommandAutocomplete:
		return "autocomplete"
	default:
		return "unknown"
	}
}

func interactionPayload(i *discordgo.Interaction) map[string]any {
	payload := map[string]any{}
	if i.Member != nil && i.Member.User != nil {
		payload["user_id"] = i.Member.User.ID
		payload["user_name"] = i.Member.User.Username
	} else if i.User != nil {
		payload["user_id"] = i.User.ID
		payload["user_name"] = i.User.Username
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand, discordgo.InteractionApplicationCommandAutocomplete:
		data := i.ApplicationCommandData()
		payload["command"] = data.Name
		if len(data.Options) > 0 {
			opts := map[string]any{}
			for _, opt := range data.Options {
				if opt != nil {
					opts[opt.Name] = opt.Value
				}
			}
			payload["options"] = opts
		}
	case discordgo.InteractionMessageComponent:
		payload["custom_id"] = i.MessageComponentData().CustomID
	case discordgo.InteractionModalSubmit:
		payload["custom_id"] = i.ModalSubmitData().CustomID
	}
	return payload
}
