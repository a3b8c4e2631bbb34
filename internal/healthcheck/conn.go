package healthcheck

import (
	"context"
	"fmt"

	"github.com/guildstream/guildstream/internal/gateway"
)

// ConnSource is the slice of the bridge the connection checker reads.
type ConnSource interface {
	Status() gateway.Status
	Attempts() int
	QueueDepth() int
}

// ConnChecker reports the gateway connection and command queue health.
type ConnChecker struct {
	source ConnSource
	// queueWarnDepth marks the queue check as warning once this many commands
	// are waiting. Zero disables the threshold.
	queueWarnDepth int
}

// NewConnChecker creates a checker over the bridge.
func NewConnChecker(source ConnSource, queueWarnDepth int) *ConnChecker {
	return &ConnChecker{source: source, queueWarnDepth: queueWarnDepth}
}

func (c *ConnChecker) ListChecks(ctx context.Context) []CheckResult {
	status := c.source.Status()
	conn := CheckResult{
		ID:       "gateway_connection",
		Status:   StatusOK,
		Summary:  string(status),
		Metadata: map[string]any{"attempts": c.source.Attempts()},
	}
	switch status {
	case gateway.StatusDegraded, gateway.StatusConnecting:
		conn.Status = StatusWarn
	case gateway.StatusDisconnected:
		conn.Status = StatusError
	}

	depth := c.source.QueueDepth()
	queue := CheckResult{
		ID:       "command_queue",
		Status:   StatusOK,
		Summary:  fmt.Sprintf("%d pending", depth),
		Metadata: map[string]any{"depth": depth},
	}
	if c.queueWarnDepth > 0 && depth >= c.queueWarnDepth {
		queue.Status = StatusWarn
	}

	return []CheckResult{conn, queue}
}
