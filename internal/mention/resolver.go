package mention

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/guildstream/guildstream/internal/stream"
)

// Wire tokens: <@ID> and <@!ID> (user), <#ID> (channel), <@&ID> (role).
// The prefix group distinguishes the kind; "@&" must win over "@".
var wireTokenRE = regexp.MustCompile(`<(@&|@!|@|#)(\d+)>`)

// Readable tokens accepted on the outbound path: @name or #name, where name
// is a username, role name, or channel name without spaces.
var readableTokenRE = regexp.MustCompile(`([@#])([A-Za-z0-9_.\-]+)`)

// Observed carries the (name, ID) pairs the platform attached to an event,
// used to seed the cache before parsing the text.
type Observed struct {
	Users    []Entry
	Channels []Entry
	Roles    []Entry
}

// Resolver translates message text between wire and readable form.
type Resolver struct {
	cache         *Cache
	dir           Directory
	logger        *slog.Logger
	lookupTimeout time.Duration
}

// NewResolver creates a resolver over the shared cache. dir may be nil, in
// which case outbound resolution is cache-only.
func NewResolver(cache *Cache, dir Directory, log *slog.Logger, lookupTimeout time.Duration) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if lookupTimeout <= 0 {
		lookupTimeout = 10 * time.Second
	}
	return &Resolver{
		cache:         cache,
		dir:           dir,
		logger:        log.With(slog.String("component", "mention")),
		lookupTimeout: lookupTimeout,
	}
}

// Cache exposes the underlying shared cache.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// ParseInbound replaces every recognized wire token in raw with its readable
// form and returns the structured mention metadata. Every observed entity and
// every resolvable token feeds the cache as a side effect. Tokens whose ID has
// no known name are left on the wire form but still appear in the metadata.
func (r *Resolver) ParseInbound(raw string, observed Observed) (string, stream.Mentions) {
	for _, e := range observed.Users {
		r.cache.Put(KindUser, e.Name, e.ID)
	}
	for _, e := range observed.Channels {
		r.cache.Put(KindChannel, e.Name, e.ID)
	}
	for _, e := range observed.Roles {
		r.cache.Put(KindRole, e.Name, e.ID)
	}

	var mentions stream.Mentions
	seen := map[string]bool{}

	display := wireTokenRE.ReplaceAllStringFunc(raw, func(token string) string {
		groups := wireTokenRE.FindStringSubmatch(token)
		kind := kindForPrefix(groups[1])
		id := groups[2]

		name, _ := r.cache.NameByID(kind, id)
		if !seen[string(kind)+":"+id] {
			seen[string(kind)+":"+id] = true
			entity := stream.Entity{ID: id, Name: name}
			switch kind {
			case KindUser:
				mentions.Users = append(mentions.Users, entity)
			case KindChannel:
				mentions.Channels = append(mentions.Channels, entity)
			case KindRole:
				mentions.Roles = append(mentions.Roles, entity)
			}
		}
		if name == "" {
			return token
		}
		if kind == KindChannel {
			return "#" + name
		}
		return "@" + name
	})

	return display, mentions
}

// ResolveOutbound reverse-replaces readable tokens with their wire form.
// Resolution order per token: in-memory cache, then guild-scoped directory
// lookups, then leave the token as literal text. Directory failures are
// logged and never abort the send.
func (r *Resolver) ResolveOutbound(ctx context.Context, display, guildID string) string {
	return readableTokenRE.ReplaceAllStringFunc(display, func(token string) string {
		groups := readableTokenRE.FindStringSubmatch(token)
		sigil, name := groups[1], groups[2]

		if sigil == "#" {
			if id, ok := r.resolveChannel(ctx, guildID, name); ok {
				return "<#" + id + ">"
			}
			return token
		}
		if id, ok := r.cache.IDByName(KindUser, name); ok {
			return "<@" + id + ">"
		}
		if id, ok := r.cache.IDByName(KindRole, name); ok {
			return "<@&" + id + ">"
		}
		if id, ok := r.lookupMember(ctx, guildID, name); ok {
			return "<@" + id + ">"
		}
		if id, ok := r.lookupRole(ctx, guildID, name); ok {
			return "<@&" + id + ">"
		}
		return token
	})
}

func (r *Resolver) resolveChannel(ctx context.Context, guildID, name string) (string, bool) {
	if id, ok := r.cache.IDByName(KindChannel, name); ok {
		return id, true
	}
	if r.dir == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()
	entry, err := r.dir.FindChannelByName(ctx, guildID, name)
	if err != nil {
		r.logUnresolved(KindChannel, name, err)
		return "", false
	}
	r.cache.Put(KindChannel, entry.Name, entry.ID)
	return entry.ID, true
}

func (r *Resolver) lookupMember(ctx context.Context, guildID, name string) (string, bool) {
	if r.dir == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	members, err := r.dir.SearchMembersByUsername(ctx, guildID, name)
	if err != nil {
		r.logUnresolved(KindUser, name, err)
		return "", false
	}
	if id, ok := matchEntry(members, name); ok {
		r.cache.Put(KindUser, name, id)
		return id, true
	}

	// Search misses nicknamed members on some guilds; fall back to a full
	// enumeration before giving up.
	members, err = r.dir.ListMembers(ctx, guildID)
	if err != nil {
		r.logUnresolved(KindUser, name, err)
		return "", false
	}
	for _, m := range members {
		r.cache.Put(KindUser, m.Name, m.ID)
	}
	if id, ok := matchEntry(members, name); ok {
		return id, true
	}
	return "", false
}

func (r *Resolver) lookupRole(ctx context.Context, guildID, name string) (string, bool) {
	if r.dir == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()
	roles, err := r.dir.ListRoles(ctx, guildID)
	if err != nil {
		r.logUnresolved(KindRole, name, err)
		return "", false
	}
	for _, role := range roles {
		r.cache.Put(KindRole, role.Name, role.ID)
	}
	return matchEntry(roles, name)
}

func (r *Resolver) logUnresolved(kind Kind, name string, err error) {
	r.logger.Warn("token left unresolved",
		slog.String("kind", string(kind)),
		slog.String("name", name),
		slog.Any("error", err),
	)
}

func matchEntry(entries []Entry, name string) (string, bool) {
	for _, e := range entries {
		if strings.EqualFold(e.Name, name) {
			return e.ID, true
		}
	}
	return "", false
}

func kindForPrefix(prefix string) Kind {
	switch prefix {
	case "#":
		return KindChannel
	case "@&":
		return KindRole
	default:
		return KindUser
	}
}
