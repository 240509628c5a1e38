package twitchirc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/you/streamrig/internal/core"
)

// ircLine is one IRCv3 line: "@tags :source COMMAND params :trailing".
type ircLine struct {
	tags        map[string]string
	source      string
	command     string
	params      []string
	trailing    string
	hasTrailing bool
}

// channel returns the first "#name" parameter without the hash.
func (l ircLine) channel() string {
	for _, p := range l.params {
		if strings.HasPrefix(p, "#") {
			return p[1:]
		}
	}
	return ""
}

func parseLine(raw string) (ircLine, bool) {
	var l ircLine
	rest := strings.TrimSpace(raw)
	if strings.HasPrefix(rest, "@") {
		tags, after, ok := strings.Cut(rest[1:], " ")
		if !ok {
			return l, false
		}
		l.tags = parseTags(tags)
		rest = strings.TrimLeft(after, " ")
	}
	if strings.HasPrefix(rest, ":") {
		source, after, ok := strings.Cut(rest[1:], " ")
		if !ok {
			return l, false
		}
		l.source = source
		rest = strings.TrimLeft(after, " ")
	}
	if head, trailing, ok := strings.Cut(rest, " :"); ok {
		rest = head
		l.trailing = trailing
		l.hasTrailing = true
	} else if strings.HasPrefix(rest, ":") {
		l.trailing = rest[1:]
		l.hasTrailing = true
		rest = ""
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return l, false
	}
	l.command = strings.ToUpper(fields[0])
	l.params = fields[1:]
	if l.tags == nil {
		l.tags = map[string]string{}
	}
	return l, true
}

// parsePrivmsg parses a tagged PRIVMSG for channel. A non-empty reason
// says why the line was not a chat message.
func parsePrivmsg(raw, channel string) (core.ChatMessage, string) {
	l, ok := parseLine(raw)
	if !ok {
		return core.ChatMessage{}, "malformed"
	}
	return chatMessage(l, channel)
}

func chatMessage(l ircLine, channel string) (core.ChatMessage, string) {
	if l.command != "PRIVMSG" {
		return core.ChatMessage{}, "not_privmsg"
	}
	if !l.hasTrailing || len(l.params) == 0 {
		return core.ChatMessage{}, "malformed"
	}
	target := l.channel()
	if !strings.EqualFold(target, channel) {
		return core.ChatMessage{}, "other_channel"
	}

	text := l.trailing
	isAction := false
	if body, ok := strings.CutPrefix(text, "\x01ACTION "); ok && strings.HasSuffix(body, "\x01") {
		isAction = true
		text = strings.TrimSuffix(body, "\x01")
	}

	tags := l.tags
	login, _, _ := strings.Cut(l.source, "!")
	login = strings.ToLower(login)
	display := tags["display-name"]
	if display == "" {
		display = login
	}

	ts := time.Now().UTC()
	if ms, err := strconv.ParseInt(tags["tmi-sent-ts"], 10, 64); err == nil {
		ts = time.UnixMilli(ms).UTC()
	}
	id := tags["id"]
	if id == "" {
		id = fmt.Sprintf("%s-%d", login, ts.UnixNano())
	}

	badges := badgeSet(tags["badges"])
	bits, _ := strconv.Atoi(tags["bits"])

	return core.ChatMessage{
		ID:             id,
		Ts:             ts,
		Channel:        strings.ToLower(target),
		UserID:         tags["user-id"],
		Login:          login,
		DisplayName:    display,
		Text:           text,
		Color:          tags["color"],
		IsAction:       isAction,
		IsBroadcaster:  badges["broadcaster"],
		IsModerator:    tags["mod"] == "1" || badges["moderator"],
		IsVIP:          badges["vip"] || tags["vip"] == "1",
		IsSubscriber:   tags["subscriber"] == "1" || badges["subscriber"] || badges["founder"],
		Bits:           bits,
		CustomRewardID: tags["custom-reward-id"],
	}, ""
}

func parseTags(raw string) map[string]string {
	tags := map[string]string{}
	for _, kv := range strings.Split(raw, ";") {
		if kv == "" {
			continue
		}
		key, val, _ := strings.Cut(kv, "=")
		tags[key] = unescapeTag(val)
	}
	return tags
}

// badgeSet returns the badge names in a "name/version,..." tag.
func badgeSet(raw string) map[string]bool {
	out := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), "/")
		if name != "" {
			out[name] = true
		}
	}
	return out
}

func isAuthFailure(l ircLine) bool {
	if l.command != "NOTICE" {
		return false
	}
	text := strings.ToLower(l.trailing)
	return strings.Contains(text, "authentication failed") ||
		strings.Contains(text, "improperly formatted auth")
}

var tagEscapes = strings.NewReplacer(`\s`, " ", `\n`, "\n", `\r`, "\r", `\:`, ";", `\\`, `\`)

func unescapeTag(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return tagEscapes.Replace(s)
}
