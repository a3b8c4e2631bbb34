package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// WSSink pushes the fact stream to the downstream state store over a
// websocket, one JSON frame per fact. The connection is dialed lazily and
// re-dialed on the next emit after a write failure; the sink itself carries
// no retry loop beyond that.
type WSSink struct {
	url    string
	logger *slog.Logger
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSSink creates a sink that delivers facts to the given ws:// URL.
func NewWSSink(url string, log *slog.Logger) *WSSink {
	if log == nil {
		log = slog.Default()
	}
	return &WSSink{
		url:    url,
		logger: log.With(slog.String("sink", "websocket")),
		dialer: websocket.DefaultDialer,
	}
}

func (s *WSSink) Emit(ctx context.Context, fact Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			return fmt.Errorf("dial fact sink: %w", err)
		}
		s.logger.Info("connected", slog.String("url", s.url))
		s.conn = conn
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := s.conn.WriteJSON(fact); err != nil {
		_ = s.conn.Close()
		s.conn = nil
		return fmt.Errorf("write fact: %w", err)
	}
	return nil
}

// Close tears down the current connection, if any.
func (s *WSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	if closeErr := s.conn.Close(); err == nil {
		err = closeErr
	}
	s.conn = nil
	return err
}
