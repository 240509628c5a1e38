package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Collections used by the rig.
const (
	RewardCounters = "reward_counters"
	RewardIDs      = "twitch_rewards"
	UserVoices     = "tts_user_voices"
	Blacklist      = "tts_blacklist"
	CleanNames     = "user_names"
	Labels         = "labels"
)

// Store persists small JSON records grouped in collections. A record is
// identified by the value of one of its fields (matchKey). Writes are
// last-write-wins.
type Store interface {
	// Pull decodes the record whose matchKey field equals matchValue into
	// out. It reports false when no such record exists.
	Pull(ctx context.Context, collection, matchKey, matchValue string, out any) (bool, error)
	// Push inserts or replaces record, keyed by its matchKey field.
	Push(ctx context.Context, collection, matchKey string, record any) error
	Close() error
}

type RewardCounter struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type RewardID struct {
	Key string `json:"key"`
	ID  string `json:"id"`
}

type UserVoice struct {
	UserName     string `json:"userName"`
	LanguageCode string `json:"languageCode"`
	VoiceName    string `json:"voiceName"`
	Gender       string `json:"gender"`
}

type BlacklistEntry struct {
	UserName string `json:"userName"`
	Active   bool   `json:"active"`
}

type CleanName struct {
	UserName  string `json:"userName"`
	ShortName string `json:"shortName"`
}

type Label struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// encodeRecord marshals record and extracts the value of its matchKey field.
func encodeRecord(matchKey string, record any) (string, []byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return "", nil, fmt.Errorf("settings: encode record: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", nil, fmt.Errorf("settings: record is not an object: %w", err)
	}
	value, ok := fields[matchKey]
	if !ok {
		return "", nil, fmt.Errorf("settings: record has no %q field", matchKey)
	}
	var match string
	switch v := value.(type) {
	case string:
		match = v
	case float64, bool:
		match = fmt.Sprint(v)
	default:
		return "", nil, fmt.Errorf("settings: field %q is not a scalar", matchKey)
	}
	if strings.TrimSpace(match) == "" {
		return "", nil, fmt.Errorf("settings: field %q is empty", matchKey)
	}
	return match, raw, nil
}

func decodeRecord(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("settings: decode record: %w", err)
	}
	return nil
}

// Open returns the Store for backend ("sqlite", "badger" or "memory").
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "sqlite":
		return OpenSQLite(path)
	case "badger":
		return OpenBadger(BadgerOptions{Dir: path})
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("settings: unknown backend %q", backend)
	}
}
