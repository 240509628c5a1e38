package speech

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind selects how a line is phrased.
type Kind int

const (
	KindSaid         Kind = iota // "name said: text"
	KindAction                   // "name text"
	KindAnnouncement             // "text"
	KindCheer                    // "name cheered N bits: text"
)

func (k Kind) String() string {
	switch k {
	case KindSaid:
		return "said"
	case KindAction:
		return "action"
	case KindAnnouncement:
		return "announcement"
	case KindCheer:
		return "cheer"
	default:
		return "unknown"
	}
}

// ParseKind maps config names onto Kind. Unknown names are announcements.
func ParseKind(name string) Kind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "said":
		return KindSaid
	case "action":
		return KindAction
	case "cheer":
		return KindCheer
	default:
		return KindAnnouncement
	}
}

const DefaultSaidTemplate = "%userName said: %userInput"

var (
	urlPattern      = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)
	spacePattern    = regexp.MustCompile(`\s+`)
	cheermotePrefix = regexp.MustCompile(`(?i)\b(cheer|biblethump|cheerwhal|corgo|uni|showlove|party|seemsgood|pride|kappa|frankerz|heyguys|dansgame|elegiggle|trihard|kreygasm|4head|swiftrage|notlikethis|failfish|vohiyo|pjsalt|mrdestructoid|bday|ripcheer|shamrock|streamlabs|holidaycheer|goal|anon|charity)\d+\b`)
	nameTrailer     = regexp.MustCompile(`[\d_]+$`)
)

// cleanText prepares raw chat text for synthesis.
func cleanText(text string, kind Kind) string {
	if kind == KindCheer {
		text = cheermotePrefix.ReplaceAllString(text, "")
	}
	text = urlPattern.ReplaceAllString(text, "link")
	text = spacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// cleanName turns a login into something pronounceable.
func cleanName(login string) string {
	name := nameTrailer.ReplaceAllString(login, "")
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.TrimSpace(name)
	if name == "" {
		return login
	}
	return name
}

// phrase wraps text according to kind. collapse drops the "said" prefix when
// the same speaker spoke recently.
func phrase(kind Kind, name, text string, bits int, saidTemplate string, collapse bool) string {
	switch kind {
	case KindSaid:
		if collapse {
			return text
		}
		if saidTemplate == "" {
			saidTemplate = DefaultSaidTemplate
		}
		out := strings.ReplaceAll(saidTemplate, "%userName", name)
		return strings.ReplaceAll(out, "%userInput", text)
	case KindAction:
		return name + " " + text
	case KindCheer:
		unit := "bit"
		if bits > 1 {
			unit = "bits"
		}
		return fmt.Sprintf("%s cheered %d %s: %s", name, bits, unit, text)
	default:
		return text
	}
}

// speechParams scales rate and pitch with length; long lines are read a
// little faster.
func speechParams(text string, rateOverride float64) (rate, pitch float64) {
	variation := (float64(len(text)) - 150) / 500
	rate = 1.0 + variation*0.25
	if rateOverride > 0 {
		rate = rateOverride
	}
	return rate, variation
}
