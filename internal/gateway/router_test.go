package gateway_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildstream/guildstream/internal/gateway"
)

// respondCountingSession records reply vs follow-up calls.
type respondCountingSession struct {
	fakeSession
	mu        sync.Mutex
	replies   []string
	followUps []string
}

func (s *respondCountingSession) Respond(ctx context.Context, interaction *discordgo.Interaction, content string, ephemeral bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, interaction.ID)
	return nil
}

func (s *respondCountingSession) FollowUp(ctx context.Context, interaction *discordgo.Interaction, content string, ephemeral bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followUps = append(s.followUps, interaction.ID)
	return nil
}

func TestInteractionRouter_SingleReplyThenFollowUp(t *testing.T) {
	t.Parallel()
	session := &respondCountingSession{}
	router := gateway.NewInteractionRouter(0, nil)
	router.Track(&discordgo.Interaction{ID: "i1"})

	require.NoError(t, router.Respond(context.Background(), session, "i1", "first", false))
	require.NoError(t, router.Respond(context.Background(), session, "i1", "second", false))

	assert.Equal(t, []string{"i1"}, session.replies)
	assert.Equal(t, []string{"i1"}, session.followUps)
}

func TestInteractionRouter_UnknownID(t *testing.T) {
	t.Parallel()
	session := &respondCountingSession{}
	router := gateway.NewInteractionRouter(0, nil)

	err := router.Respond(context.Background(), session, "missing", "hello", false)
	assert.ErrorIs(t, err, gateway.ErrUnknownInteraction)
	assert.Empty(t, session.replies)
}

func TestInteractionRouter_EvictsOldest(t *testing.T) {
	t.Parallel()
	session := &respondCountingSession{}
	router := gateway.NewInteractionRouter(2, nil)

	for i := 0; i < 3; i++ {
		router.Track(&discordgo.Interaction{ID: fmt.Sprintf("i%d", i)})
	}
	assert.Equal(t, 2, router.Pending())

	err := router.Respond(context.Background(), session, "i0", "late", false)
	assert.ErrorIs(t, err, gateway.ErrUnknownInteraction)
	assert.NoError(t, router.Respond(context.Background(), session, "i2", "ok", false))
}

func TestInteractionRouter_TrackIgnoresDuplicates(t *testing.T) {
	t.Parallel()
	router := gateway.NewInteractionRouter(0, nil)
	router.Track(&discordgo.Interaction{ID: "i1"})
	router.Track(&discordgo.Interaction{ID: "i1"})
	assert.Equal(t, 1, router.Pending())
}
