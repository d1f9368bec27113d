package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/onnwee/stream-herald/cache"
	"github.com/onnwee/stream-herald/notify"
	"github.com/onnwee/stream-herald/stream"
	"github.com/onnwee/stream-herald/twitchapi"
)

const streamsCacheKey = "streams_overview"

// Service is the slice of the lifecycle manager the chat commands drive.
// Satisfied by *stream.Manager.
type Service interface {
	Subscribe(ctx context.Context, login string, dest stream.Destination) (*stream.Subscription, error)
	Unsubscribe(ctx context.Context, login string) (*stream.Subscription, error)
	Overview(ctx context.Context) ([]notify.ChannelStatus, error)
}

// Commands wires the bot's command handlers. Renders throttles the
// /streams overview, which costs one Helix call per tracked channel.
type Commands struct {
	Svc     Service
	OwnerID int64
	Renders *cache.TTL
	Timeout time.Duration
}

func (c *Commands) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}

// Register installs the command handlers on the bot. Management commands
// are restricted to the configured owner; /streams is open to the group.
func (c *Commands) Register(bot *tele.Bot) {
	bot.Handle("/subscribe", c.ownerOnly(c.handleSubscribe))
	bot.Handle("/unsubscribe", c.ownerOnly(c.handleUnsubscribe))
	bot.Handle("/streams", c.handleStreams)
}

// ownerOnly silently drops commands from anyone but the owner. Replying
// with a refusal would just invite probing in a public group.
func (c *Commands) ownerOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(tc tele.Context) error {
		sender := tc.Sender()
		if sender == nil || sender.ID != c.OwnerID {
			slog.Debug("ignoring management command from non-owner",
				slog.String("command", tc.Text()),
				slog.Int64("from", senderID(sender)))
			return nil
		}
		return next(tc)
	}
}

func senderID(u *tele.User) int64 {
	if u == nil {
		return 0
	}
	return u.ID
}

func (c *Commands) handleSubscribe(tc tele.Context) error {
	login := loginArg(tc)
	if login == "" {
		return tc.Reply("Usage: /subscribe <channel>")
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()

	dest := stream.Destination{ChatID: tc.Chat().ID, TopicID: messageThread(tc)}
	sub, err := c.Svc.Subscribe(ctx, login, dest)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrAlreadySubscribed):
			return tc.Reply("Already subscribed to " + login + ".")
		case errors.Is(err, twitchapi.ErrChannelNotFound):
			return tc.Reply("No Twitch channel named " + login + ".")
		}
		slog.Error("subscribe failed", slog.String("login", login), slog.Any("err", err))
		return tc.Reply("Could not subscribe to " + login + ", try again later.")
	}
	c.Renders.Remove(streamsCacheKey)
	return tc.Reply("Subscribed to " + sub.DisplayName + ". Live notifications will land here.")
}

func (c *Commands) handleUnsubscribe(tc tele.Context) error {
	login := loginArg(tc)
	if login == "" {
		return tc.Reply("Usage: /unsubscribe <channel>")
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()

	sub, err := c.Svc.Unsubscribe(ctx, login)
	if err != nil {
		if errors.Is(err, stream.ErrNotSubscribed) {
			return tc.Reply("Not subscribed to " + login + ".")
		}
		slog.Error("unsubscribe failed", slog.String("login", login), slog.Any("err", err))
		return tc.Reply("Could not unsubscribe from " + login + ", try again later.")
	}
	c.Renders.Remove(streamsCacheKey)
	return tc.Reply("Unsubscribed from " + sub.DisplayName + ".")
}

func (c *Commands) handleStreams(tc tele.Context) error {
	if cached, ok := c.Renders.Get(streamsCacheKey); ok {
		return tc.Reply(cached, tele.NoPreview)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()

	channels, err := c.Svc.Overview(ctx)
	if err != nil {
		slog.Error("overview failed", slog.Any("err", err))
		return tc.Reply("Could not fetch channel status, try again later.")
	}
	text := notify.ChannelList(channels)
	c.Renders.Set(streamsCacheKey, text)
	return tc.Reply(text, tele.NoPreview)
}

func loginArg(tc tele.Context) string {
	args := tc.Args()
	if len(args) == 0 {
		return ""
	}
	login := strings.ToLower(strings.TrimSpace(args[0]))
	return strings.TrimPrefix(login, "@")
}

func messageThread(tc tele.Context) int {
	if m := tc.Message(); m != nil {
		return m.ThreadID
	}
	return 0
}
