package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/bwmarrin/discordgo"

	"github.com/guildstream/guildstream/internal/snowflake"
	"github.com/guildstream/guildstream/internal/stream"
)

// Reconcile fetches a bounded window of recent history for the channel and
// diffs it against local state: messages we know that vanished from the
// window were deleted while disconnected, known messages whose remote text
// changed were edited, and the rest are genuinely new. The fetch runs outside
// the engine lock so other channels keep ingesting.
//
// The deletion pass is a bounded-window heuristic: a message deleted outside
// the fetched window is not detected.
func (e *Engine) Reconcile(ctx context.Context, channelID string) {
	e.mu.Lock()
	sub, ok := e.subs[channelID]
	if !ok {
		e.mu.Unlock()
		return
	}
	afterID := ""
	if len(sub.known) == 0 && sub.cursor != "" {
		// Nothing local to diff against; only messages past the cursor matter.
		afterID = sub.cursor
	}
	e.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	msgs, err := e.history.ChannelMessages(fetchCtx, channelID, e.scrollback, afterID)
	cancel()
	if err != nil {
		e.logger.Warn("history fetch failed",
			slog.String("channel_id", channelID),
			slog.Any("error", err),
		)
		return
	}
	sortAscending(msgs)

	// Hold the emit-order lock across the diff and the batch emit; a live
	// fact for this connection waits until the whole batch is out, or the
	// stream would interleave a newer ID ahead of older history.
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	sub, ok = e.subs[channelID]
	if !ok {
		// Left the channel while the fetch was in flight.
		e.mu.Unlock()
		return
	}
	facts := e.applyWindow(sub, msgs, afterID == "")
	e.mu.Unlock()

	for _, fact := range facts {
		e.emit(ctx, fact)
	}
}

// applyWindow diffs the fetched window (ascending) into the subscription and
// returns the facts to emit, in order: deletions, then edits and new
// messages chronologically. Caller holds the engine lock.
func (e *Engine) applyWindow(sub *subscription, msgs []*discordgo.Message, diffDeletions bool) []stream.Fact {
	var facts []stream.Fact

	fetched := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		fetched[m.ID] = true
	}

	if diffDeletions {
		var missing []string
		for id := range sub.known {
			if fetched[id] {
				continue
			}
			// Only IDs that would have appeared in the window count as
			// deleted; anything older than the window is out of reach.
			if len(msgs) > 0 && !snowflake.IsOlderOrEqual(msgs[0].ID, id) {
				continue
			}
			missing = append(missing, id)
		}
		sort.Slice(missing, func(i, j int) bool {
			return snowflake.IsOlderOrEqual(missing[i], missing[j])
		})
		for _, id := range missing {
			delete(sub.known, id)
			fact := stream.NewFact(stream.KindMessageDeleted)
			fact.MessageDeleted = &stream.MessageDeleted{ChannelID: sub.channelID, MessageID: id}
			facts = append(facts, fact)
			e.logger.Info("offline deletion detected",
				slog.String("channel_id", sub.channelID),
				slog.String("message_id", id),
			)
		}
	}

	for _, m := range msgs {
		if old, known := sub.known[m.ID]; known {
			if old == m.Content {
				continue
			}
			_, mentions := e.parseMessage(m)
			sub.known[m.ID] = m.Content
			fact := stream.NewFact(stream.KindMessageEdited)
			fact.MessageEdited = &stream.MessageEdited{
				ChannelID: sub.channelID,
				MessageID: m.ID,
				OldText:   old,
				NewText:   m.Content,
				Mentions:  mentions,
			}
			facts = append(facts, fact)
			continue
		}
		display, mentions := e.parseMessage(m)
		sub.remember(m.ID, m.Content, e.maxKnown)
		facts = append(facts, e.addedFact(sub, m, display, mentions, true))
	}

	// Advance to the newest ID the fetch returned, not the newest surviving
	// filtering, so the cursor is right even when everything was known.
	if newest := newestFetchedID(msgs); newest != "" {
		sub.advanceCursor(newest)
	}
	return facts
}

func sortAscending(msgs []*discordgo.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		return snowflake.IsOlderOrEqual(msgs[i].ID, msgs[j].ID) && msgs[i].ID != msgs[j].ID
	})
}
