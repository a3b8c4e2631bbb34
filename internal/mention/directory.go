package mention

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Directory lookups when no entry matches.
var ErrNotFound = errors.New("directory entry not found")

// Entry is a directory lookup result.
type Entry struct {
	ID   string
	Name string
}

// Directory is the remote guild directory consulted when the cache misses on
// an outbound token. Lookups may fail on network or permission errors; the
// resolver degrades to literal text rather than surfacing those.
type Directory interface {
	FindChannelByName(ctx context.Context, guildID, name string) (Entry, error)
	SearchMembersByUsername(ctx context.Context, guildID, username string) ([]Entry, error)
	ListMembers(ctx context.Context, guildID string) ([]Entry, error)
	ListRoles(ctx context.Context, guildID string) ([]Entry, error)
}
