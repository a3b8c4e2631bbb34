package gateway_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildstream/guildstream/internal/gateway"
)

type execRecorder struct {
	mu       sync.Mutex
	ops      []string
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func (r *execRecorder) exec(cmd gateway.Command) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxSeen {
		r.maxSeen = r.inFlight
	}
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.ops = append(r.ops, string(cmd.Op)+":"+cmd.ChannelID)
	r.inFlight--
	r.mu.Unlock()
}

func (r *execRecorder) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ops))
	copy(out, r.ops)
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
	t.Fatal("condition not reached")
}

func TestQueue_HoldsUntilDrain(t *testing.T) {
	rec := &execRecorder{}
	q := gateway.NewQueue(nil)
	defer q.Stop()
	q.SetExecutor(rec.exec)

	cmd := gateway.NewCommand(gateway.OpJoin)
	cmd.ChannelID = "c1"
	q.Enqueue(cmd)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.executed())
	assert.Equal(t, 1, q.Depth())

	q.Drain()
	waitFor(t, func() bool { return len(rec.executed()) == 1 })
	assert.Equal(t, []string{"join:c1"}, rec.executed())
	assert.Equal(t, 0, q.Depth())
}

func TestQueue_FIFOSingleFlight(t *testing.T) {
	rec := &execRecorder{delay: 10 * time.Millisecond}
	q := gateway.NewQueue(nil)
	defer q.Stop()
	q.SetExecutor(rec.exec)
	q.Drain()

	for _, ch := range []string{"c1", "c2", "c3", "c4"} {
		cmd := gateway.NewCommand(gateway.OpSend)
		cmd.ChannelID = ch
		q.Enqueue(cmd)
	}

	waitFor(t, func() bool { return len(rec.executed()) == 4 })
	assert.Equal(t, []string{"send:c1", "send:c2", "send:c3", "send:c4"}, rec.executed())
	assert.Equal(t, 1, rec.maxSeen)
}

func TestQueue_PauseHoldsNewCommands(t *testing.T) {
	rec := &execRecorder{}
	q := gateway.NewQueue(nil)
	defer q.Stop()
	q.SetExecutor(rec.exec)
	q.Drain()

	first := gateway.NewCommand(gateway.OpTyping)
	first.ChannelID = "c1"
	q.Enqueue(first)
	waitFor(t, func() bool { return len(rec.executed()) == 1 })

	q.Pause()
	second := gateway.NewCommand(gateway.OpTyping)
	second.ChannelID = "c2"
	q.Enqueue(second)

	time.Sleep(50 * time.Millisecond)
	require.Len(t, rec.executed(), 1)

	q.Drain()
	waitFor(t, func() bool { return len(rec.executed()) == 2 })
}

func TestQueue_StopDiscardsPending(t *testing.T) {
	rec := &execRecorder{}
	q := gateway.NewQueue(nil)
	q.SetExecutor(rec.exec)

	cmd := gateway.NewCommand(gateway.OpLeave)
	cmd.ChannelID = "c1"
	q.Enqueue(cmd)
	q.Stop()

	assert.Empty(t, rec.executed())
	assert.Equal(t, 0, q.Depth())
}
