package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/john/slackignore/internal/roster"
)

// ErrUnresolvedAuthor is matched by every UnresolvedAuthorError
var ErrUnresolvedAuthor = errors.New("message author could not be resolved")

// UnresolvedAuthorError reports an event whose author has no real name from
// any source.
type UnresolvedAuthorError struct {
	UserID string
}

func (e *UnresolvedAuthorError) Error() string {
	return fmt.Sprintf("message: author %q: no member, username or bot profile", e.UserID)
}

func (e *UnresolvedAuthorError) Is(target error) bool {
	return target == ErrUnresolvedAuthor
}

// Directory resolves raw ids. *roster.Cache implements it.
type Directory interface {
	Member(id string) (roster.Member, bool)
	Conversation(id string) (roster.Conversation, bool)
}

// Normalize converts a realtime message event into a Message
func Normalize(ev *slack.MessageEvent, dir Directory) (Message, error) {
	member, isMember := dir.Member(ev.User)

	var msg Message

	switch {
	case isMember && member.RealName != "":
		msg.AuthorRealName = member.RealName
	case ev.Username != "":
		msg.AuthorRealName = ev.Username
	case ev.BotProfile != nil && ev.BotProfile.Name != "":
		msg.AuthorRealName = ev.BotProfile.Name
	default:
		return Message{}, &UnresolvedAuthorError{UserID: ev.User}
	}

	if isMember && member.Nickname != "" {
		msg.AuthorNickname = member.Nickname
	} else {
		msg.AuthorNickname = ev.Username
	}

	if isMember {
		msg.AuthorIsBot = member.IsBot
	} else {
		msg.AuthorIsBot = ev.BotProfile != nil
	}

	if conv, ok := dir.Conversation(ev.Channel); ok {
		msg.ConversationName = conv.Name
	}

	msg.Text = joinText(ev)
	return msg, nil
}

func joinText(ev *slack.MessageEvent) string {
	parts := make([]string, 0, 3)
	if ev.Text != "" {
		parts = append(parts, ev.Text)
	}
	if len(ev.Attachments) > 0 {
		a := ev.Attachments[0]
		if a.Pretext != "" {
			parts = append(parts, a.Pretext)
		}
		if a.Text != "" {
			parts = append(parts, a.Text)
		}
	}
	return strings.Join(parts, " ")
}
