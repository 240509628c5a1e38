package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

var (
	ErrThrottled   = errors.New("speech: provider throttled")
	ErrBadRequest  = errors.New("speech: provider rejected input")
	ErrProviderErr = errors.New("speech: provider error")
)

type pollyClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
	DescribeVoices(ctx context.Context, params *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
}

// Polly synthesizes through Amazon Polly. Voice names are Polly voice ids
// such as "Joanna".
type Polly struct {
	Region string
	Engine string // "neural" or "standard"

	mu     sync.Mutex
	client pollyClient
}

func NewPolly(region, engine string) *Polly {
	return &Polly{Region: region, Engine: engine}
}

func newPollyWithClient(client pollyClient) *Polly {
	return &Polly{Region: "us-east-1", Engine: "neural", client: client}
}

func (p *Polly) Synthesize(ctx context.Context, text string, params Params) (Audio, error) {
	client, err := p.resolveClient(ctx)
	if err != nil {
		return Audio{}, err
	}

	voice := params.VoiceName
	if voice == "" {
		voice = "Joanna"
	}
	textType := pollytypes.TextTypeText
	if params.SSML {
		textType = pollytypes.TextTypeSsml
	}
	in := &polly.SynthesizeSpeechInput{
		Engine:       p.engine(),
		OutputFormat: pollytypes.OutputFormatOggVorbis,
		Text:         &text,
		TextType:     textType,
		VoiceId:      pollytypes.VoiceId(voice),
	}
	if params.LanguageCode != "" {
		in.LanguageCode = pollytypes.LanguageCode(params.LanguageCode)
	}

	out, err := client.SynthesizeSpeech(ctx, in)
	if err != nil {
		return Audio{}, classifyPollyError(err)
	}
	if out == nil || out.AudioStream == nil {
		return Audio{}, fmt.Errorf("%w: empty audio stream", ErrProviderErr)
	}
	defer out.AudioStream.Close()
	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return Audio{}, fmt.Errorf("speech: polly: read audio: %w", err)
	}
	return Audio{Data: data, Format: "ogg"}, nil
}

func (p *Polly) Voices(ctx context.Context) ([]VoiceInfo, error) {
	client, err := p.resolveClient(ctx)
	if err != nil {
		return nil, err
	}
	var (
		out   []VoiceInfo
		token *string
	)
	for {
		resp, err := client.DescribeVoices(ctx, &polly.DescribeVoicesInput{Engine: p.engine(), NextToken: token})
		if err != nil {
			return nil, classifyPollyError(err)
		}
		for _, v := range resp.Voices {
			info := VoiceInfo{Name: string(v.Id), Gender: strings.ToUpper(string(v.Gender))}
			if v.LanguageCode != "" {
				info.LanguageCodes = append(info.LanguageCodes, string(v.LanguageCode))
			}
			for _, extra := range v.AdditionalLanguageCodes {
				info.LanguageCodes = append(info.LanguageCodes, string(extra))
			}
			out = append(out, info)
		}
		if resp.NextToken == nil || *resp.NextToken == "" {
			return out, nil
		}
		token = resp.NextToken
	}
}

func (p *Polly) engine() pollytypes.Engine {
	if strings.EqualFold(p.Engine, "standard") {
		return pollytypes.EngineStandard
	}
	return pollytypes.EngineNeural
}

func (p *Polly) resolveClient(ctx context.Context) (pollyClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	region := p.Region
	if strings.TrimSpace(region) == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("speech: polly: load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(cfg)
	return p.client, nil
}

func classifyPollyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return fmt.Errorf("%w: %s", ErrThrottled, apiErr.ErrorMessage())
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
			"MarksNotSupportedForFormatException", "InvalidSampleRateException", "LanguageNotSupportedException",
			"EngineNotSupportedException":
			return fmt.Errorf("%w: %s: %s", ErrBadRequest, apiErr.ErrorCode(), apiErr.ErrorMessage())
		default:
			return fmt.Errorf("%w: %s: %s", ErrProviderErr, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("speech: polly: %w", err)
}
