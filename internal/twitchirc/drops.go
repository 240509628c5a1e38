package twitchirc

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const dropSummaryInterval = time.Minute

var (
	oauthTokenRe = regexp.MustCompile(`(?i)oauth:[^\s;]+`)
	longTokenRe  = regexp.MustCompile(`[A-Za-z0-9+/_=\-]{24,}`)
)

// dropCounter tallies lines that carried no chat message and logs one
// debug summary per interval.
type dropCounter struct {
	interval time.Duration
	next     time.Time
	counts   map[string]int // "reason command" -> n
}

func newDropCounter(now time.Time, interval time.Duration) *dropCounter {
	return &dropCounter{interval: interval, next: now.Add(interval), counts: map[string]int{}}
}

func (d *dropCounter) add(now time.Time, reason string, l ircLine) {
	command := l.command
	if command == "" {
		command = "UNKNOWN"
	}
	slog.Debug("twitchirc: dropped line", "reason", reason, "command", command, "sample", dropSample(l))
	d.counts[reason+" "+command]++
	if !now.Before(d.next) {
		d.flush(now)
	}
}

func (d *dropCounter) flush(now time.Time) {
	if len(d.counts) > 0 {
		keys := make([]string, 0, len(d.counts))
		for k := range d.counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, strings.Replace(k, " ", "/", 1)+"="+strconv.Itoa(d.counts[k]))
		}
		slog.Debug("twitchirc: dropped lines", "window", d.interval, "counts", strings.Join(parts, " "))
		clear(d.counts)
	}
	d.next = now.Add(d.interval)
}

// dropSample is a short redacted description of l for debug logs.
func dropSample(l ircLine) string {
	sample := ""
	switch {
	case l.command == "USERNOTICE" && l.tags["msg-id"] != "":
		sample = "msg-id=" + l.tags["msg-id"]
	case l.trailing != "":
		sample = l.trailing
	case l.channel() != "":
		sample = "#" + l.channel()
	default:
		sample = strings.Join(l.params, " ")
	}
	return redact(sample, 96)
}

// redact collapses whitespace, hides anything that looks like a token and
// cuts s to max bytes.
func redact(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if upper := strings.ToUpper(s); upper == "PASS" || strings.HasPrefix(upper, "PASS ") {
		return "PASS [REDACTED]"
	}
	s = oauthTokenRe.ReplaceAllString(s, "oauth:[REDACTED]")
	s = longTokenRe.ReplaceAllString(s, "[REDACTED]")
	if max > 3 && len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
