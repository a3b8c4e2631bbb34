package engine

import "github.com/guildstream/guildstream/internal/snowflake"

// subscription is the engine-side state for one joined channel: the set of
// currently known, non-deleted message IDs with their last observed text, and
// the last-read cursor. All access goes through the engine mutex.
type subscription struct {
	channelID string
	name      string
	known     map[string]string // messageID -> last observed text
	cursor    string
}

func newSubscription(channelID, name string) *subscription {
	return &subscription{
		channelID: channelID,
		name:      name,
		known:     make(map[string]string),
	}
}

// remember records a message and keeps the known set bounded by evicting the
// smallest IDs first. Evicted messages fall outside the reconciliation
// horizon; drift on them is no longer detectable, same as drift outside the
// scrollback window.
func (s *subscription) remember(id, text string, max int) {
	s.known[id] = text
	for max > 0 && len(s.known) > max {
		oldest := ""
		for candidate := range s.known {
			if oldest == "" || snowflake.IsOlderOrEqual(candidate, oldest) {
				oldest = candidate
			}
		}
		delete(s.known, oldest)
	}
}

// advanceCursor moves the last-read cursor forward, never backward.
func (s *subscription) advanceCursor(id string) {
	s.cursor = snowflake.Newest(s.cursor, id)
}
