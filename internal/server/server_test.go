package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildstream/guildstream/internal/engine"
	"github.com/guildstream/guildstream/internal/gateway"
	"github.com/guildstream/guildstream/internal/healthcheck"
	"github.com/guildstream/guildstream/internal/server"
)

type fakeSource struct {
	status   gateway.Status
	attempts int
	depth    int
	channels []engine.ChannelState
}

func (f *fakeSource) Status() gateway.Status               { return f.status }
func (f *fakeSource) Attempts() int                        { return f.attempts }
func (f *fakeSource) BotIdentity() (string, string)        { return "bot-1", "streambot" }
func (f *fakeSource) QueueDepth() int                      { return f.depth }
func (f *fakeSource) PendingInteractions() int             { return 0 }
func (f *fakeSource) ChannelStates() []engine.ChannelState { return f.channels }

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	source := &fakeSource{
		status:   gateway.StatusAuthenticated,
		attempts: 0,
		depth:    2,
		channels: []engine.ChannelState{{ChannelID: "c1", Name: "general", Cursor: "300", KnownCount: 3}},
	}
	srv := server.NewServer(":0", nil, source)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Connection string                `json:"connection"`
		BotID      string                `json:"bot_id"`
		QueueDepth int                   `json:"queue_depth"`
		Channels   []engine.ChannelState `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "authenticated", body.Connection)
	assert.Equal(t, "bot-1", body.BotID)
	assert.Equal(t, 2, body.QueueDepth)
	require.Len(t, body.Channels, 1)
	assert.Equal(t, "300", body.Channels[0].Cursor)
}

func TestHealthzReflectsConnection(t *testing.T) {
	t.Parallel()
	source := &fakeSource{status: gateway.StatusAuthenticated}
	checker := healthcheck.NewConnChecker(source, 10)
	srv := server.NewServer(":0", nil, source, checker)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	source.status = gateway.StatusDisconnected
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthzDegradedIsStillServing(t *testing.T) {
	t.Parallel()
	source := &fakeSource{status: gateway.StatusDegraded, attempts: 3}
	checker := healthcheck.NewConnChecker(source, 10)
	srv := server.NewServer(":0", nil, source, checker)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Checks []healthcheck.CheckResult `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Checks)
	assert.Equal(t, healthcheck.StatusWarn, body.Checks[0].Status)
}
