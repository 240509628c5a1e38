package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed events.schema.json
var eventsSchemaJSON string

const eventsSchemaURL = "streamrig://events.schema.json"

// EventsFile is the declarative trigger to action mapping.
type EventsFile struct {
	Events            map[string]Event  `yaml:"events"`
	Dictionary        map[string]string `yaml:"dictionary"`
	ScreenshotSound   *AudioAction      `yaml:"screenshotSound"`
	EmptyMessageSound *AudioAction      `yaml:"emptyMessageSound"`
}

type Event struct {
	Triggers Triggers `yaml:"triggers"`
	Actions  Actions  `yaml:"actions"`
}

type Triggers struct {
	Reward  *RewardTrigger  `yaml:"reward"`
	Command *CommandTrigger `yaml:"command"`
	Cheer   int             `yaml:"cheer"`
}

// RewardTrigger binds a channel point reward. More than one variant makes
// the reward incremental.
type RewardTrigger struct {
	ID       string          `yaml:"id"`
	Variants []RewardVariant `yaml:"variants"`
}

func (r *RewardTrigger) Incremental() bool {
	return r != nil && len(r.Variants) > 1
}

type RewardVariant struct {
	Title             string `yaml:"title" json:"title,omitempty"`
	Prompt            string `yaml:"prompt" json:"prompt,omitempty"`
	Cost              int    `yaml:"cost" json:"cost,omitempty"`
	BackgroundColor   string `yaml:"backgroundColor" json:"background_color,omitempty"`
	IsEnabled         *bool  `yaml:"enabled" json:"is_enabled,omitempty"`
	UserInputRequired bool   `yaml:"userInputRequired" json:"is_user_input_required,omitempty"`
}

type CommandTrigger struct {
	Words       string      `yaml:"words"`
	Permissions Permissions `yaml:"permissions"`
	Cooldown    int         `yaml:"cooldown"`
}

type Permissions struct {
	Everyone    bool `yaml:"everyone"`
	Subscribers bool `yaml:"subscribers"`
	VIPs        bool `yaml:"vips"`
	Moderators  bool `yaml:"moderators"`
}

// Actions holds the typed config for every sub-action kind. Absent kinds
// stay nil or empty.
type Actions struct {
	OBS        List[OBSAction]       `yaml:"obs"`
	Lights     List[LightAction]     `yaml:"lights"`
	Plugs      *PlugAction           `yaml:"plugs"`
	Audio      *AudioAction          `yaml:"audio"`
	Speech     *SpeechAction         `yaml:"speech"`
	AudioURL   *AudioAction          `yaml:"audioURL"`
	Pipe       List[PipeAction]      `yaml:"pipe"`
	OpenVR2WS  List[OpenVR2WSAction] `yaml:"openvr2ws"`
	Sign       *SignAction           `yaml:"sign"`
	Exec       *ExecAction           `yaml:"exec"`
	Web        string                `yaml:"web"`
	Screenshot *ScreenshotAction     `yaml:"screenshot"`
	Discord    List[string]          `yaml:"discord"`
	Telegram   List[string]          `yaml:"telegram"`
	Chat       List[string]          `yaml:"chat"`
	Label      string                `yaml:"label"`
	Commands   *CommandsAction       `yaml:"commands"`
}

type OBSAction struct {
	Scene      string       `yaml:"scene"`
	Sources    List[string] `yaml:"sources"`
	Filter     string       `yaml:"filter"`
	State      *bool        `yaml:"state"`
	DurationMS int          `yaml:"durationMs"`
}

// Enabled reports the requested state, defaulting to on.
func (a OBSAction) Enabled() bool {
	return a.State == nil || *a.State
}

type LightAction struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type PlugAction struct {
	ID           int  `yaml:"id"`
	Original     bool `yaml:"original"`
	Trigger      bool `yaml:"trigger"`
	DurationSecs int  `yaml:"duration"`
}

type AudioAction struct {
	Src     List[string] `yaml:"src"`
	Volume  float64      `yaml:"volume"`
	Repeat  int          `yaml:"repeat"`
	Channel int          `yaml:"channel"`
}

type SpeechAction struct {
	Entries List[string] `yaml:"entries"`
	VoiceOf string       `yaml:"voiceOf"`
	Type    string       `yaml:"type"`
}

type PipeAction struct {
	Properties map[string]any `yaml:"properties"`
	TextAreas  int            `yaml:"textAreas"`
	Texts      []string       `yaml:"texts"`
	ImagePath  string         `yaml:"imagePath"`
	ImageData  string         `yaml:"imageData"`
	DurationMS int            `yaml:"durationMs"`
}

type OpenVR2WSAction struct {
	Setting      string `yaml:"setting"`
	Value        any    `yaml:"value"`
	Reset        any    `yaml:"reset"`
	DurationSecs int    `yaml:"duration"`
}

type SignAction struct {
	Title      string `yaml:"title"`
	Image      string `yaml:"image"`
	Subtitle   string `yaml:"subtitle"`
	DurationMS int    `yaml:"durationMs"`
}

type ExecAction struct {
	Run List[string] `yaml:"run"`
	URI List[string] `yaml:"uri"`
}

type ScreenshotAction struct {
	OBSSource string `yaml:"obsSource"`
	DelaySecs int    `yaml:"delay"`
}

type CommandsAction struct {
	Entries  List[string] `yaml:"entries"`
	Interval int          `yaml:"interval"`
}

// List decodes either a single YAML value or a sequence of them.
type List[T any] []T

func (l *List[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var items []T
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var one T
	if err := node.Decode(&one); err != nil {
		return err
	}
	*l = List[T]{one}
	return nil
}

var (
	eventsSchemaOnce sync.Once
	eventsSchema     *jsonschema.Schema
	eventsSchemaErr  error
)

func compiledEventsSchema() (*jsonschema.Schema, error) {
	eventsSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(eventsSchemaURL, strings.NewReader(eventsSchemaJSON)); err != nil {
			eventsSchemaErr = fmt.Errorf("config: add events schema: %w", err)
			return
		}
		eventsSchema, eventsSchemaErr = compiler.Compile(eventsSchemaURL)
		if eventsSchemaErr != nil {
			eventsSchemaErr = fmt.Errorf("config: compile events schema: %w", eventsSchemaErr)
		}
	})
	return eventsSchema, eventsSchemaErr
}

func LoadEvents(path string) (EventsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EventsFile{}, fmt.Errorf("config: read events %s: %w", path, err)
	}
	file, err := ParseEvents(data)
	if err != nil {
		return EventsFile{}, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// ParseEvents validates raw YAML against the events schema and decodes it.
func ParseEvents(data []byte) (EventsFile, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return EventsFile{}, fmt.Errorf("config: parse events: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	// The validator expects JSON-typed values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return EventsFile{}, fmt.Errorf("config: events are not json compatible: %w", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return EventsFile{}, fmt.Errorf("config: events are not json compatible: %w", err)
	}

	schema, err := compiledEventsSchema()
	if err != nil {
		return EventsFile{}, err
	}
	if err := schema.Validate(payload); err != nil {
		return EventsFile{}, fmt.Errorf("config: invalid events: %w", err)
	}

	var file EventsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return EventsFile{}, fmt.Errorf("config: decode events: %w", err)
	}
	if file.Events == nil {
		file.Events = map[string]Event{}
	}
	return file, nil
}

// Keys returns the event keys in sorted order.
func (f EventsFile) Keys() []string {
	keys := make([]string, 0, len(f.Events))
	for key := range f.Events {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
