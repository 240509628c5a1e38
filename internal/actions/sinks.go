package actions

import (
	"context"
	"errors"

	"github.com/you/streamrig/internal/audio"
	"github.com/you/streamrig/internal/completion"
	"github.com/you/streamrig/internal/core"
	"github.com/you/streamrig/internal/speech"
	"github.com/you/streamrig/internal/vr"
)

// ErrNoSink is returned by a sub-action whose collaborator is not wired.
var ErrNoSink = errors.New("actions: sink not configured")

type AudioPlayer interface {
	Enqueue(channel int, req audio.Request)
}

type Speaker interface {
	Submit(ctx context.Context, req speech.Request) uint64
	SoundEffect(req audio.Request) uint64
}

type Completions interface {
	Register(token string, cb completion.Callback)
}

type OBS interface {
	SetSceneItemEnabled(ctx context.Context, scene, source string, enabled bool) error
	SetSourceFilterEnabled(ctx context.Context, source, filter string, enabled bool) error
	// SaveSourceScreenshot fires token once OBS has answered the request.
	SaveSourceScreenshot(ctx context.Context, source, token string) error
}

type Lights interface {
	SetColor(ctx context.Context, x, y float64) error
}

type Plugs interface {
	SetPlug(ctx context.Context, id int, on bool) error
}

type Pipe interface {
	Notify(ctx context.Context, n vr.PipeNotification) error
}

type OpenVR2WS interface {
	SetSetting(ctx context.Context, setting string, value any) error
}

type Screenshotter interface {
	Screenshot(ctx context.Context, req vr.ScreenshotRequest) error
}

// Overlay fans events out to browser sources.
type Overlay interface {
	Publish(event string, payload any)
}

type Exec interface {
	Run(ctx context.Context, commandLine string) error
	OpenURI(ctx context.Context, uri string) error
}

type Web interface {
	Get(ctx context.Context, url string) error
}

type Discord interface {
	Send(ctx context.Context, webhookKey, username, avatarURL, content string) error
}

type Telegram interface {
	Send(ctx context.Context, text string) error
}

type Chat interface {
	Say(ctx context.Context, text string) error
}

type Labels interface {
	Write(ctx context.Context, key, text string) error
}

type CommandRunner interface {
	RunCommand(ctx context.Context, word string, user core.User) bool
}

type Profiles interface {
	ProfileImage(ctx context.Context, userID string) (string, error)
}

type Recorder interface {
	SubActionFailed(kind string)
}

// Deps are the collaborators sub-actions call into. Nil members disable the
// kinds that need them.
type Deps struct {
	Audio       AudioPlayer
	Speech      Speaker
	Completions Completions
	OBS         OBS
	Lights      Lights
	Plugs       Plugs
	Pipe        Pipe
	OpenVR2WS   OpenVR2WS
	SSSVR       Screenshotter
	Overlay     Overlay
	Exec        Exec
	Web         Web
	Discord     Discord
	Telegram    Telegram
	Chat        Chat
	Labels      Labels
	Commands    CommandRunner
	Profiles    Profiles
}
