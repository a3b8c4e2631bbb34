// Package engine turns the raw gateway feed into the clean, ordered,
// idempotent fact stream: live ingestion with duplicate suppression, and
// history reconciliation that detects drift accumulated while disconnected.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/guildstream/guildstream/internal/mention"
	"github.com/guildstream/guildstream/internal/snowflake"
	"github.com/guildstream/guildstream/internal/stream"
)

// HistoryFetcher fetches a bounded window of recent channel messages,
// newest first, optionally constrained to IDs strictly after afterID.
type HistoryFetcher interface {
	ChannelMessages(ctx context.Context, channelID string, limit int, afterID string) ([]*discordgo.Message, error)
}

const (
	defaultScrollback   = 50
	defaultFetchTimeout = 15 * time.Second
)

// Options tunes the engine.
type Options struct {
	// Scrollback is the history window size per reconciliation fetch.
	Scrollback int
	// MaxKnown bounds the per-channel known-ID set. Zero means 4x Scrollback.
	MaxKnown int
	// FetchTimeout bounds each history fetch.
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

// Engine owns all per-channel ingestion state for one connection. A single
// mutex serializes every mutation, so there is never more than one state
// change in flight per channel; history fetches run outside the lock.
type Engine struct {
	logger       *slog.Logger
	resolver     *mention.Resolver
	sink         stream.Sink
	history      HistoryFetcher
	scrollback   int
	maxKnown     int
	fetchTimeout time.Duration

	mu    sync.Mutex
	subs  map[string]*subscription
	botID string

	// emitMu serializes state changes together with their emissions, so a
	// reconciliation batch and a concurrent live fact can never leave out of
	// ID order. Always acquired before mu; never held across a history fetch.
	emitMu sync.Mutex
}

// ChannelState is a point-in-time snapshot of one subscription, exposed for
// the status surface.
type ChannelState struct {
	ChannelID  string `json:"channel_id"`
	Name       string `json:"name,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
	KnownCount int    `json:"known_count"`
}

// New creates an engine emitting to the given sink.
func New(resolver *mention.Resolver, sink stream.Sink, history HistoryFetcher, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Scrollback <= 0 {
		opts.Scrollback = defaultScrollback
	}
	if opts.MaxKnown <= 0 {
		opts.MaxKnown = 4 * opts.Scrollback
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	return &Engine{
		logger:       opts.Logger.With(slog.String("component", "engine")),
		resolver:     resolver,
		sink:         sink,
		history:      history,
		scrollback:   opts.Scrollback,
		maxKnown:     opts.MaxKnown,
		fetchTimeout: opts.FetchTimeout,
		subs:         make(map[string]*subscription),
	}
}

// SetBotIdentity records the authenticated bot user, used to tag self-authored
// messages.
func (e *Engine) SetBotIdentity(botID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.botID = botID
}

// Join subscribes to a channel and reconciles its history. Joining an
// already-joined channel re-runs reconciliation without emitting a second
// joined fact.
func (e *Engine) Join(ctx context.Context, channelID, name string) {
	e.mu.Lock()
	sub, rejoin := e.subs[channelID]
	if !rejoin {
		sub = newSubscription(channelID, name)
		e.subs[channelID] = sub
	} else if name != "" {
		sub.name = name
	}
	if sub.name != "" {
		e.resolver.Cache().Put(mention.KindChannel, sub.name, channelID)
	}
	e.mu.Unlock()

	if !rejoin {
		fact := stream.NewFact(stream.KindChannelJoined)
		fact.ChannelJoined = &stream.ChannelJoined{ChannelID: channelID, Name: name}
		e.emitOrdered(ctx, fact)
	}
	e.Reconcile(ctx, channelID)
}

// Leave drops the subscription and its tracked state.
func (e *Engine) Leave(ctx context.Context, channelID string) {
	e.mu.Lock()
	_, ok := e.subs[channelID]
	delete(e.subs, channelID)
	e.mu.Unlock()
	if !ok {
		return
	}
	fact := stream.NewFact(stream.KindChannelLeft)
	fact.ChannelLeft = &stream.ChannelLeft{ChannelID: channelID}
	e.emitOrdered(ctx, fact)
}

// ReconcileAll re-runs reconciliation for every joined channel. Called after
// every re-authentication to pick up drift from the disconnected window.
func (e *Engine) ReconcileAll(ctx context.Context) {
	e.mu.Lock()
	channels := make([]string, 0, len(e.subs))
	for id := range e.subs {
		channels = append(channels, id)
	}
	e.mu.Unlock()
	for _, id := range channels {
		e.Reconcile(ctx, id)
	}
}

// ChannelStates snapshots all subscriptions for the status surface.
func (e *Engine) ChannelStates() []ChannelState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ChannelState, 0, len(e.subs))
	for _, sub := range e.subs {
		out = append(out, ChannelState{
			ChannelID:  sub.channelID,
			Name:       sub.name,
			Cursor:     sub.cursor,
			KnownCount: len(sub.known),
		})
	}
	return out
}

// HandleLiveMessage ingests a pushed message event. Already-seen IDs are
// discarded; this is the primary defense against double delivery from
// overlapping history windows and live pushes.
func (e *Engine) HandleLiveMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.ID == "" {
		return
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.mu.Lock()
	sub, ok := e.subs[m.ChannelID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if _, dup := sub.known[m.ID]; dup {
		e.mu.Unlock()
		e.logger.Debug("duplicate live message discarded",
			slog.String("channel_id", m.ChannelID),
			slog.String("message_id", m.ID),
		)
		return
	}
	display, mentions := e.parseMessage(m)
	sub.remember(m.ID, m.Content, e.maxKnown)
	sub.advanceCursor(m.ID)
	fact := e.addedFact(sub, m, display, mentions, false)
	e.mu.Unlock()

	e.emit(ctx, fact)
}

// HandleLiveEdit ingests a pushed edit. Edits reference an existing ID, so no
// dedup applies; the known text is updated when the ID is tracked.
func (e *Engine) HandleLiveEdit(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.ID == "" {
		return
	}
	// Partial update events (embed and link-preview resolution) arrive with
	// empty content; they are not edits.
	if m.Content == "" {
		return
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.mu.Lock()
	sub, ok := e.subs[m.ChannelID]
	if !ok {
		e.mu.Unlock()
		return
	}
	old, tracked := sub.known[m.ID]
	if tracked {
		sub.known[m.ID] = m.Content
	}
	_, mentions := e.parseMessage(m)
	fact := stream.NewFact(stream.KindMessageEdited)
	fact.MessageEdited = &stream.MessageEdited{
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		OldText:   old,
		NewText:   m.Content,
		Mentions:  mentions,
	}
	e.mu.Unlock()

	e.emit(ctx, fact)
}

// HandleLiveDelete ingests a pushed deletion and forgets the ID so a later
// reconciliation does not re-report it.
func (e *Engine) HandleLiveDelete(ctx context.Context, channelID, messageID string) {
	if messageID == "" {
		return
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.mu.Lock()
	sub, ok := e.subs[channelID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(sub.known, messageID)
	e.mu.Unlock()

	fact := stream.NewFact(stream.KindMessageDeleted)
	fact.MessageDeleted = &stream.MessageDeleted{ChannelID: channelID, MessageID: messageID}
	e.emit(ctx, fact)
}

func (e *Engine) parseMessage(m *discordgo.Message) (string, stream.Mentions) {
	observed := mention.Observed{}
	if m.Author != nil {
		observed.Users = append(observed.Users, mention.Entry{ID: m.Author.ID, Name: m.Author.Username})
	}
	for _, u := range m.Mentions {
		if u != nil {
			observed.Users = append(observed.Users, mention.Entry{ID: u.ID, Name: u.Username})
		}
	}
	for _, ch := range m.MentionChannels {
		if ch != nil {
			observed.Channels = append(observed.Channels, mention.Entry{ID: ch.ID, Name: ch.Name})
		}
	}
	return e.resolver.ParseInbound(m.Content, observed)
}

func (e *Engine) addedFact(sub *subscription, m *discordgo.Message, display string, mentions stream.Mentions, isHistory bool) stream.Fact {
	author := stream.Author{}
	if m.Author != nil {
		author = stream.Author{ID: m.Author.ID, Name: m.Author.Username, Bot: m.Author.Bot || m.Author.ID == e.botID}
	}
	replyTo := ""
	if m.MessageReference != nil {
		replyTo = m.MessageReference.MessageID
	}
	fact := stream.NewFact(stream.KindMessageAdded)
	fact.MessageAdded = &stream.MessageAdded{
		ChannelID: sub.channelID,
		MessageID: m.ID,
		Author:    author,
		Text:      display,
		RawText:   m.Content,
		Mentions:  mentions,
		ReplyTo:   replyTo,
		IsHistory: isHistory,
	}
	return fact
}

// emit delivers one fact to the sink. Callers hold emitMu.
func (e *Engine) emit(ctx context.Context, fact stream.Fact) {
	if err := e.sink.Emit(ctx, fact); err != nil {
		e.logger.Warn("fact emit failed", slog.String("kind", string(fact.Kind)), slog.Any("error", err))
	}
}

func (e *Engine) emitOrdered(ctx context.Context, fact stream.Fact) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.emit(ctx, fact)
}

// newestFetchedID returns the largest ID in the fetched window.
func newestFetchedID(msgs []*discordgo.Message) string {
	newest := ""
	for _, m := range msgs {
		newest = snowflake.Newest(newest, m.ID)
	}
	return newest
}
