// Package telegram adapts the telebot transport to the chat operations the
// lifecycle manager needs: sending photo notifications into a group (or a
// forum topic inside one) and editing them in place when the broadcast ends.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/onnwee/stream-herald/stream"
)

// api is the slice of *tele.Bot the messenger uses. Kept narrow so tests
// can substitute a fake without a live bot token.
type api interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	EditCaption(msg tele.Editable, caption string, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Messenger implements stream.Messenger over the Telegram Bot API.
type Messenger struct {
	bot api
}

// NewBot connects to the Telegram Bot API with long polling.
func NewBot(token string) (*tele.Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	return tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
}

// NewMessenger wraps an established bot.
func NewMessenger(bot *tele.Bot) *Messenger {
	return &Messenger{bot: bot}
}

func sendOptions(dest stream.Destination) *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode: tele.ModeHTML,
		ThreadID:  dest.TopicID,
	}
}

// Send delivers a notification to the destination group or topic. A
// non-empty photoURL produces a photo message with the text as caption;
// otherwise a plain HTML text message is sent.
func (m *Messenger) Send(_ context.Context, dest stream.Destination, text, photoURL string) (int, error) {
	chat := &tele.Chat{ID: dest.ChatID}
	var payload interface{} = text
	if photoURL != "" {
		payload = &tele.Photo{File: tele.FromURL(photoURL), Caption: text}
	}
	msg, err := m.bot.Send(chat, payload, sendOptions(dest))
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// Edit rewrites the caption of an earlier photo notification in place.
// When Telegram reports the target message gone (deleted by an admin, or
// past the edit horizon), the error maps to stream.ErrMessageNotFound so
// the caller can fall back to a standalone message.
func (m *Messenger) Edit(_ context.Context, dest stream.Destination, messageID int, text string) error {
	target := &tele.Message{ID: messageID, Chat: &tele.Chat{ID: dest.ChatID}}
	_, err := m.bot.EditCaption(target, text, sendOptions(dest))
	if err == nil {
		return nil
	}
	if isMessageGone(err) {
		// Retry as a text edit in case the original went out without a
		// photo; only if that also misses is the message truly gone.
		if _, terr := m.bot.Edit(target, text, sendOptions(dest)); terr == nil {
			return nil
		} else if isMessageGone(terr) {
			return stream.ErrMessageNotFound
		} else {
			return terr
		}
	}
	return err
}

// isMessageGone matches on the Bot API error description rather than
// telebot's sentinel values, which have shifted between releases.
func isMessageGone(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "message to edit not found") ||
		strings.Contains(msg, "MESSAGE_ID_INVALID")
}
