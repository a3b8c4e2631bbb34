package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ErrUnknownInteraction is returned when replying to an interaction ID that
// was never tracked or has been evicted. The platform also expires unanswered
// interactions on its own; no local timer is kept.
var ErrUnknownInteraction = errors.New("unknown or expired interaction")

const defaultPendingInteractionLimit = 256

type pendingInteraction struct {
	interaction *discordgo.Interaction
	arrivedAt   time.Time
	replied     bool
}

// InteractionRouter correlates inbound interactions to their pending-reply
// slot. Exactly one reply is permitted per interaction; any further response
// is routed as a follow-up. The pending map is size-bounded, evicting the
// oldest arrivals.
type InteractionRouter struct {
	logger *slog.Logger
	limit  int

	mu      sync.Mutex
	pending map[string]*pendingInteraction
	order   []string
}

// NewInteractionRouter creates a router holding at most limit pending
// interactions (a default bound applies when limit <= 0).
func NewInteractionRouter(limit int, log *slog.Logger) *InteractionRouter {
	if log == nil {
		log = slog.Default()
	}
	if limit <= 0 {
		limit = defaultPendingInteractionLimit
	}
	return &InteractionRouter{
		logger:  log.With(slog.String("component", "interactions")),
		limit:   limit,
		pending: make(map[string]*pendingInteraction),
	}
}

// Track records an inbound interaction awaiting a reply.
func (r *InteractionRouter) Track(interaction *discordgo.Interaction) {
	if interaction == nil || interaction.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[interaction.ID]; ok {
		return
	}
	for len(r.order) >= r.limit {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.pending, oldest)
		r.logger.Debug("evicted pending interaction", slog.String("interaction_id", oldest))
	}
	r.pending[interaction.ID] = &pendingInteraction{
		interaction: interaction,
		arrivedAt:   time.Now().UTC(),
	}
	r.order = append(r.order, interaction.ID)
}

// Respond issues the reply for the given interaction ID. The first call per
// interaction goes out as the reply; later calls go out as follow-ups. An
// unknown ID fails that single operation only.
func (r *InteractionRouter) Respond(ctx context.Context, session Session, interactionID, content string, ephemeral bool) error {
	r.mu.Lock()
	slot, ok := r.pending[interactionID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownInteraction
	}
	first := !slot.replied
	slot.replied = true
	interaction := slot.interaction
	r.mu.Unlock()

	if first {
		if err := session.Respond(ctx, interaction, content, ephemeral); err != nil {
			// The reply slot stays consumed: the platform rejects a second
			// initial response for the same interaction regardless.
			return err
		}
		return nil
	}
	return session.FollowUp(ctx, interaction, content, ephemeral)
}

// Pending returns the number of tracked interactions.
func (r *InteractionRouter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
