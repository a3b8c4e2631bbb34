package bridge

import (
	"context"
	"strings"

	"github.com/guildstream/guildstream/internal/gateway"
	"github.com/guildstream/guildstream/internal/mention"
)

const memberPageSize = 1000

// sessionDirectory answers mention lookups from the live gateway session.
type sessionDirectory struct {
	session gateway.Session
}

// NewDirectory exposes the session's guild directory to the mention resolver.
func NewDirectory(session gateway.Session) mention.Directory {
	return &sessionDirectory{session: session}
}

func (d *sessionDirectory) FindChannelByName(ctx context.Context, guildID, name string) (mention.Entry, error) {
	channels, err := d.session.GuildChannels(ctx, guildID)
	if err != nil {
		return mention.Entry{}, err
	}
	for _, ch := range channels {
		if ch != nil && strings.EqualFold(ch.Name, name) {
			return mention.Entry{ID: ch.ID, Name: ch.Name}, nil
		}
	}
	return mention.Entry{}, mention.ErrNotFound
}

func (d *sessionDirectory) SearchMembersByUsername(ctx context.Context, guildID, query string) ([]mention.Entry, error) {
	members, err := d.session.SearchMembers(ctx, guildID, query, 100)
	if err != nil {
		return nil, err
	}
	out := make([]mention.Entry, 0, len(members))
	for _, m := range members {
		if m != nil && m.User != nil {
			out = append(out, mention.Entry{ID: m.User.ID, Name: m.User.Username})
		}
	}
	return out, nil
}

func (d *sessionDirectory) ListMembers(ctx context.Context, guildID string) ([]mention.Entry, error) {
	var out []mention.Entry
	after := ""
	for {
		page, err := d.session.ListMembers(ctx, guildID, after, memberPageSize)
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			if m != nil && m.User != nil {
				out = append(out, mention.Entry{ID: m.User.ID, Name: m.User.Username})
			}
		}
		if len(page) < memberPageSize {
			return out, nil
		}
		// The cursor advances from the last page element; stop when it
		// cannot, rather than refetch the same page forever.
		last := page[len(page)-1]
		if last == nil || last.User == nil || last.User.ID == after {
			return out, nil
		}
		after = last.User.ID
	}
}

func (d *sessionDirectory) ListRoles(ctx context.Context, guildID string) ([]mention.Entry, error) {
	roles, err := d.session.ListRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	out := make([]mention.Entry, 0, len(roles))
	for _, r := range roles {
		if r != nil {
			out = append(out, mention.Entry{ID: r.ID, Name: r.Name})
		}
	}
	return out, nil
}
