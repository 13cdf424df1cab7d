package catchup

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultWindow accepts the last-read marker at history[0] or history[1]. The
// triggering message may or may not be visible in history yet when the
// check runs.
const DefaultWindow = 2

// Source provides the read state of a conversation
type Source interface {
	// History returns up to limit message timestamps, newest first
	History(ctx context.Context, channelID string, limit int) ([]string, error)
	LastRead(ctx context.Context, channelID string) (string, error)
}

// Checker decides whether the user is caught up on a conversation
type Checker struct {
	src    Source
	window int
}

// New creates a Checker. A window below 1 selects DefaultWindow.
func New(src Source, window int) *Checker {
	if window < 1 {
		window = DefaultWindow
	}
	return &Checker{src: src, window: window}
}

// IsCaughtUp reports whether the last-read marker is one of the newest
// window history entries. Any fetch error yields false with the error.
func (c *Checker) IsCaughtUp(ctx context.Context, channelID string) (bool, error) {
	var (
		history  []string
		lastRead string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		history, err = c.src.History(gctx, channelID, c.window)
		if err != nil {
			return fmt.Errorf("catchup: history of %s: %w", channelID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		lastRead, err = c.src.LastRead(gctx, channelID)
		if err != nil {
			return fmt.Errorf("catchup: last read of %s: %w", channelID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	if lastRead == "" {
		return false, nil
	}
	for i := 0; i < len(history) && i < c.window; i++ {
		if history[i] == lastRead {
			return true, nil
		}
	}
	return false, nil
}
