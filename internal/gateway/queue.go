package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
)

// Op identifies an outbound command kind.
type Op string

const (
	OpJoin              Op = "join"
	OpLeave             Op = "leave"
	OpSend              Op = "send"
	OpTyping            Op = "typing"
	OpRegisterCommand   Op = "register_command"
	OpUnregisterCommand Op = "unregister_command"
	OpInteractionReply  Op = "interaction_reply"
)

// Command is one pending outbound operation. Exactly the fields relevant to
// its Op are set.
type Command struct {
	ID        string
	Op        Op
	ChannelID string
	Text      string
	ReplyTo   string
	Name      string
	Desc      string
	Options   []*discordgo.ApplicationCommandOption

	InteractionID string
	Content       string
	Ephemeral     bool

	EnqueuedAt time.Time
}

// NewCommand stamps a command with an ID and enqueue time.
func NewCommand(op Op) Command {
	return Command{ID: uuid.NewString(), Op: op, EnqueuedAt: time.Now().UTC()}
}

// Queue serializes outbound commands against the current connection.
// Enqueue never blocks; commands run FIFO, one at a time, and only while the
// connection is authenticated. Commands enqueued while unauthenticated are
// held and drained on the next successful authentication, so a join issued
// right after a reconnect is never silently dropped.
type Queue struct {
	logger *slog.Logger
	wp     *workerpool.WorkerPool

	mu      sync.Mutex
	pending []Command
	ready   bool
	exec    func(Command)
}

// NewQueue creates a paused queue. SetExecutor must be called before the
// first Drain.
func NewQueue(log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		logger: log.With(slog.String("component", "queue")),
		// One worker: at most one command in flight at any instant.
		wp: workerpool.New(1),
	}
}

// SetExecutor installs the function that maps a command to its wire call.
func (q *Queue) SetExecutor(exec func(Command)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.exec = exec
}

// Enqueue appends the command and returns immediately.
func (q *Queue) Enqueue(cmd Command) {
	q.mu.Lock()
	q.pending = append(q.pending, cmd)
	held := !q.ready
	depth := len(q.pending)
	q.mu.Unlock()

	if held {
		q.logger.Debug("command held until authenticated",
			slog.String("op", string(cmd.Op)),
			slog.Int("depth", depth),
		)
		return
	}
	q.pump()
}

// Drain marks the connection authenticated and dispatches everything held.
func (q *Queue) Drain() {
	q.mu.Lock()
	q.ready = true
	depth := len(q.pending)
	q.mu.Unlock()
	if depth > 0 {
		q.logger.Info("draining held commands", slog.Int("depth", depth))
	}
	q.pump()
}

// Pause holds new and pending commands until the next Drain.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = false
}

// Depth returns the number of commands waiting to execute.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stop waits for the in-flight command and discards the rest.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.ready = false
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	if dropped > 0 {
		q.logger.Warn("discarding pending commands on stop", slog.Int("count", dropped))
	}
	q.wp.StopWait()
}

func (q *Queue) pump() {
	q.wp.Submit(func() {
		for {
			q.mu.Lock()
			if !q.ready || len(q.pending) == 0 || q.exec == nil {
				q.mu.Unlock()
				return
			}
			cmd := q.pending[0]
			q.pending = q.pending[1:]
			exec := q.exec
			q.mu.Unlock()

			exec(cmd)
		}
	})
}
