package roster

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Member is a workspace member as seen at roster build time
type Member struct {
	ID       string
	Nickname string
	RealName string
	IsBot    bool
}

// Conversation is a channel known at roster build time. Name is empty for
// conversations that have none (direct messages).
type Conversation struct {
	ID   string
	Name string
}

// Source lists one page of the member and conversation directories.
// An empty next cursor ends the traversal.
type Source interface {
	ListMembers(ctx context.Context, cursor string) ([]Member, string, error)
	ListConversations(ctx context.Context, cursor string) ([]Conversation, string, error)
}

// PageFunc fetches the page identified by cursor
type PageFunc[T any] func(ctx context.Context, cursor string) ([]T, string, error)

// Collect walks every page of a cursor-paginated listing and returns the
// concatenated records in arrival order. A failed page aborts the whole
// traversal; no partial result is returned.
func Collect[T any](ctx context.Context, fetch PageFunc[T]) ([]T, error) {
	var all []T
	cursor := ""
	for page := 1; ; page++ {
		items, next, err := fetch(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, items...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// Cache is a point-in-time snapshot of the directories. It is never mutated
// after construction, so concurrent readers need no locking.
type Cache struct {
	members       map[string]Member
	conversations map[string]Conversation
}

// Fetch builds a Cache from full traversals of both directories, run
// concurrently.
func Fetch(ctx context.Context, src Source) (*Cache, error) {
	var (
		members       []Member
		conversations []Conversation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		members, err = Collect(gctx, src.ListMembers)
		if err != nil {
			return fmt.Errorf("roster: list members: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		conversations, err = Collect(gctx, src.ListConversations)
		if err != nil {
			return fmt.Errorf("roster: list conversations: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return NewCache(members, conversations), nil
}

// NewCache indexes members and conversations by id. Later duplicates win.
func NewCache(members []Member, conversations []Conversation) *Cache {
	c := &Cache{
		members:       make(map[string]Member, len(members)),
		conversations: make(map[string]Conversation, len(conversations)),
	}
	for _, m := range members {
		c.members[m.ID] = m
	}
	for _, conv := range conversations {
		c.conversations[conv.ID] = conv
	}
	return c
}

func (c *Cache) Member(id string) (Member, bool) {
	m, ok := c.members[id]
	return m, ok
}

func (c *Cache) Conversation(id string) (Conversation, bool) {
	conv, ok := c.conversations[id]
	return conv, ok
}

// Members returns the number of cached members
func (c *Cache) Members() int {
	return len(c.members)
}

// Conversations returns the number of cached conversations
func (c *Cache) Conversations() int {
	return len(c.conversations)
}
