// Package dispatch decides, per incoming message, whether to mark its
// conversation read.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/john/slackignore/internal/message"
)

// Matcher evaluates the ignore rules
type Matcher interface {
	Matches(msg message.Message) bool
}

// CatchUpChecker reports whether the user has nothing else unread
type CatchUpChecker interface {
	IsCaughtUp(ctx context.Context, channelID string) (bool, error)
}

// Marker moves a conversation's read marker
type Marker interface {
	MarkRead(ctx context.Context, channelID, ts string) error
}

// Journal records matched messages. Record must not block.
type Journal interface {
	Record(s message.Suppression)
}

// Config wires a Dispatcher. Journal and Logger are optional.
type Config struct {
	SelfID    string
	Directory message.Directory
	Rules     Matcher
	CatchUp   CatchUpChecker
	Marker    Marker
	Journal   Journal
	Logger    *slog.Logger
}

// Dispatcher handles message events from the session
type Dispatcher struct {
	selfID  string
	dir     message.Directory
	rules   Matcher
	catchUp CatchUpChecker
	marker  Marker
	journal Journal
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Dispatcher
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		selfID:  cfg.SelfID,
		dir:     cfg.Directory,
		rules:   cfg.Rules,
		catchUp: cfg.CatchUp,
		marker:  cfg.Marker,
		journal: cfg.Journal,
		logger:  logger,
		now:     time.Now,
	}
}

// OnMessage runs skip, normalize, match, catch-up check and mark for one
// event. Returned errors concern this event only.
func (d *Dispatcher) OnMessage(ctx context.Context, ev *slack.MessageEvent) error {
	logger := d.logger.With("channel", ev.Channel, "ts", ev.Timestamp)

	if ev.User != "" && ev.User == d.selfID {
		logger.Debug("Own message, skipped")
		return nil
	}

	msg, err := message.Normalize(ev, d.dir)
	if err != nil {
		if errors.Is(err, message.ErrUnresolvedAuthor) {
			logger.Warn("Skipping message", "error", err)
			return nil
		}
		return err
	}

	if !d.rules.Matches(msg) {
		logger.Debug("Message should not be ignored", "author", msg.AuthorRealName, "conversation", msg.ConversationName)
		return nil
	}
	logger.Info("Message should be ignored, checking whether the conversation is caught up",
		"author", msg.AuthorRealName, "conversation", msg.ConversationName)

	caughtUp, err := d.catchUp.IsCaughtUp(ctx, ev.Channel)
	if err != nil {
		d.record(ev, msg, message.OutcomeCheckFailed)
		return fmt.Errorf("dispatch: catch-up check: %w", err)
	}
	if !caughtUp {
		logger.Info("Not caught up, leaving unread")
		d.record(ev, msg, message.OutcomeLeftUnread)
		return nil
	}

	if err := d.marker.MarkRead(ctx, ev.Channel, ev.Timestamp); err != nil {
		d.record(ev, msg, message.OutcomeMarkFailed)
		return fmt.Errorf("dispatch: mark read: %w", err)
	}
	logger.Info("Marked as read")
	d.record(ev, msg, message.OutcomeMarkedRead)
	return nil
}

func (d *Dispatcher) record(ev *slack.MessageEvent, msg message.Message, outcome message.Outcome) {
	if d.journal == nil {
		return
	}
	d.journal.Record(message.Suppression{
		Time:           d.now().UTC(),
		ConversationID: ev.Channel,
		MessageTS:      ev.Timestamp,
		Outcome:        outcome,
		Message:        msg,
	})
}
