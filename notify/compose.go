// Package notify composes the Telegram notification texts. Everything here is
// pure formatting; the lifecycle manager decides when and where to send.
package notify

import (
	"fmt"
	"strings"
	"time"
)

// EscapeHTML neutralizes the characters Telegram's HTML parse mode treats as
// markup. Visible content is unchanged once rendered.
func EscapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// ChannelURL returns the canonical channel URL for a login name.
func ChannelURL(login string) string {
	return "https://twitch.tv/" + strings.ToLower(login)
}

// Started renders the "went live" announcement. The title falls back to the
// display name when the broadcaster hasn't set one.
func Started(title, gameName, login, displayName string) string {
	return "🔴 " + headline(title, gameName, displayName) + "\n" + ChannelURL(login)
}

// Ended renders the "stream over" text that replaces the announcement,
// including the elapsed broadcast duration.
func Ended(title, gameName, login, displayName string, elapsed time.Duration) string {
	return "🟢 " + headline(title, gameName, displayName) +
		"\n🕒 " + FormatDuration(elapsed) +
		"\n" + ChannelURL(login)
}

func headline(title, gameName, displayName string) string {
	h := EscapeHTML(title)
	if h == "" {
		h = EscapeHTML(displayName)
	}
	if gameName != "" {
		h += " — " + EscapeHTML(gameName)
	}
	return h
}

// FormatDuration renders a duration as days/hours/minutes/seconds with zero
// leading units omitted, e.g. "1 hour" or "2 hours 3 minutes".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	units := []struct {
		name string
		n    int64
	}{
		{"day", total / 86400},
		{"hour", total % 86400 / 3600},
		{"minute", total % 3600 / 60},
		{"second", total % 60},
	}
	var parts []string
	for _, u := range units {
		if u.n == 0 {
			continue
		}
		name := u.name
		if u.n != 1 {
			name += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", u.n, name))
	}
	if len(parts) == 0 {
		return "0 seconds"
	}
	return strings.Join(parts, " ")
}

// ChannelStatus is one row of the /streams listing.
type ChannelStatus struct {
	Login       string
	DisplayName string
	Live        bool
	Title       string
	GameName    string
	Viewers     int
}

// ChannelList renders the subscription overview for the /streams command.
// Live channels sort first with their current title; offline channels are a
// bare link. Returns a placeholder line when nothing is subscribed.
func ChannelList(channels []ChannelStatus) string {
	if len(channels) == 0 {
		return "No channel subscriptions."
	}
	var live, offline []string
	for _, ch := range channels {
		link := fmt.Sprintf(`<a href="%s">%s</a>`, ChannelURL(ch.Login), EscapeHTML(ch.DisplayName))
		if !ch.Live {
			offline = append(offline, "🔴 "+link)
			continue
		}
		line := "🟢 " + link
		if ch.Viewers > 0 {
			line += fmt.Sprintf(" 👀 %d", ch.Viewers)
		}
		line += "\n" + headline(ch.Title, ch.GameName, ch.DisplayName)
		live = append(live, line)
	}
	return strings.Join(append(live, offline...), "\n")
}
