package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

func TestGoogleSynthesize(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta1/text:synthesize" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "k3y" {
			t.Errorf("key = %q, want k3y", r.URL.Query().Get("key"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"audioContent": base64.StdEncoding.EncodeToString([]byte("OggS")),
		})
	}))
	defer srv.Close()

	g := &Google{APIKey: "k3y", Endpoint: srv.URL + "/v1beta1"}
	out, err := g.Synthesize(context.Background(), "<speak>hi</speak>", Params{
		VoiceName: "en-US-Wavenet-A", LanguageCode: "en-US", Gender: "female", SpeakingRate: 1.1, SSML: true,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(out.Data) != "OggS" || out.Format != "ogg" {
		t.Fatalf("audio = %q/%q, want OggS/ogg", out.Data, out.Format)
	}

	input := got["input"].(map[string]any)
	if input["ssml"] != "<speak>hi</speak>" {
		t.Fatalf("input = %v, want ssml", input)
	}
	voice := got["voice"].(map[string]any)
	if voice["ssmlGender"] != "FEMALE" || voice["name"] != "en-US-Wavenet-A" {
		t.Fatalf("voice = %v", voice)
	}
	cfg := got["audioConfig"].(map[string]any)
	if cfg["audioEncoding"] != "OGG_OPUS" {
		t.Fatalf("audioEncoding = %v", cfg["audioEncoding"])
	}
}

func TestGoogleSynthesizeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	}))
	defer srv.Close()

	g := &Google{Endpoint: srv.URL, AudioEncoding: "mp3"}
	_, err := g.Synthesize(context.Background(), "hi", Params{})
	if err == nil {
		t.Fatalf("Synthesize: want error")
	}
	if want := "speech: google: status 403: PERMISSION_DENIED API key not valid"; err.Error() != want {
		t.Fatalf("err = %q, want %q", err.Error(), want)
	}
}

func TestGoogleVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"voices":[{"languageCodes":["en-GB"],"name":"en-GB-Wavenet-B","ssmlGender":"MALE"}]}`))
	}))
	defer srv.Close()

	voices, err := (&Google{Endpoint: srv.URL}).Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) != 1 || voices[0].Name != "en-GB-Wavenet-B" || voices[0].LanguageCodes[0] != "en-GB" {
		t.Fatalf("voices = %+v", voices)
	}
}

type fakePolly struct {
	input *polly.SynthesizeSpeechInput
	err   error
}

func (f *fakePolly) SynthesizeSpeech(_ context.Context, in *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(bytes.NewReader([]byte("vorbis")))}, nil
}

func (f *fakePolly) DescribeVoices(_ context.Context, in *polly.DescribeVoicesInput, _ ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error) {
	if in.NextToken == nil {
		next := "page2"
		return &polly.DescribeVoicesOutput{
			Voices:    []pollytypes.Voice{{Id: pollytypes.VoiceIdJoanna, Gender: pollytypes.GenderFemale, LanguageCode: pollytypes.LanguageCodeEnUs}},
			NextToken: &next,
		}, nil
	}
	return &polly.DescribeVoicesOutput{
		Voices: []pollytypes.Voice{{Id: pollytypes.VoiceIdBrian, Gender: pollytypes.GenderMale, LanguageCode: pollytypes.LanguageCodeEnGb}},
	}, nil
}

func TestPollySynthesize(t *testing.T) {
	fake := &fakePolly{}
	p := newPollyWithClient(fake)
	out, err := p.Synthesize(context.Background(), "hello", Params{VoiceName: "Brian"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(out.Data) != "vorbis" {
		t.Fatalf("data = %q", out.Data)
	}
	if fake.input.VoiceId != pollytypes.VoiceIdBrian || fake.input.TextType != pollytypes.TextTypeText {
		t.Fatalf("input = %+v", fake.input)
	}
	if fake.input.Engine != pollytypes.EngineNeural {
		t.Fatalf("engine = %v, want neural", fake.input.Engine)
	}
}

func TestPollyErrorClassification(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"ThrottlingException", ErrThrottled},
		{"TextLengthExceededException", ErrBadRequest},
		{"ServiceFailureException", ErrProviderErr},
	}
	for _, tc := range cases {
		fake := &fakePolly{err: &smithy.GenericAPIError{Code: tc.code, Message: "nope"}}
		_, err := newPollyWithClient(fake).Synthesize(context.Background(), "x", Params{})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.code, err, tc.want)
		}
	}
}

func TestPollyVoicesPaginates(t *testing.T) {
	voices, err := newPollyWithClient(&fakePolly{}).Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) != 2 || voices[0].Name != "Joanna" || voices[1].Name != "Brian" {
		t.Fatalf("voices = %+v", voices)
	}
	if voices[1].Gender != "MALE" || voices[1].LanguageCodes[0] != "en-GB" {
		t.Fatalf("voice = %+v", voices[1])
	}
}
