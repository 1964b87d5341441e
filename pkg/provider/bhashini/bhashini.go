// Package bhashini provides STT, translation, and TTS providers backed by a
// Bhashini ULCA pipeline inference endpoint.
//
// Bhashini exposes a single POST endpoint that runs one or more pipeline tasks
// (ASR, NMT, TTS, audio language detection) per request. The Client here issues
// one task per call and satisfies the stt.Provider, translate.Provider, and
// tts.Provider interfaces, so one configured client can back the whole voice
// pipeline.
//
// Usage:
//
//	c, err := bhashini.New("https://dhruva-api.bhashini.gov.in",
//	    bhashini.WithAPIKey(key),
//	    bhashini.WithVoiceGender("female"),
//	)
//	tr, err := c.Transcribe(ctx, clip, voice.Hindi)
package bhashini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mandivoice/mandivoice/pkg/fault"
	"github.com/mandivoice/mandivoice/pkg/provider/stt"
	"github.com/mandivoice/mandivoice/pkg/provider/translate"
	"github.com/mandivoice/mandivoice/pkg/provider/tts"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

const (
	// inferencePath is the ULCA pipeline compute endpoint, relative to the
	// configured base URL.
	inferencePath = "/services/inference/pipeline"

	defaultTimeout     = 30 * time.Second
	defaultSampleRate  = 16000
	defaultVoiceGender = "female"
)

// Compile-time assertions that Client satisfies every provider interface it
// claims to implement.
var (
	_ stt.Provider       = (*Client)(nil)
	_ translate.Provider = (*Client)(nil)
	_ tts.Provider       = (*Client)(nil)
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithAPIKey sets the inference API key sent in the Authorization header.
// Without it the client can still talk to unauthenticated local deployments.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client. Useful for tests and
// for callers that need custom transport settings.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout. Defaults to 30 s. Ignored when
// WithHTTPClient is also given.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithSampleRate sets the sample rate declared for uploaded audio and
// requested for synthesized audio. Defaults to 16000 Hz.
func WithSampleRate(rate int) Option {
	return func(c *Client) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// WithVoiceGender sets the synthesis voice gender ("male" or "female").
// Defaults to "female".
func WithVoiceGender(gender string) Option {
	return func(c *Client) {
		if gender != "" {
			c.voiceGender = gender
		}
	}
}

// Client talks to a Bhashini ULCA pipeline endpoint. It is safe for concurrent
// use; every call issues an independent HTTP request.
type Client struct {
	baseURL     string
	apiKey      string
	sampleRate  int
	voiceGender string
	timeout     time.Duration
	httpClient  *http.Client
}

// New creates a Client for the ULCA endpoint at baseURL (e.g.,
// "https://dhruva-api.bhashini.gov.in"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("bhashini: baseURL must not be empty")
	}
	c := &Client{
		baseURL:     baseURL,
		sampleRate:  defaultSampleRate,
		voiceGender: defaultVoiceGender,
		timeout:     defaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// DetectLanguage implements [stt.Provider] using the audio-lang-detection task.
// The highest-scoring prediction wins; an unrecognised wire code is a service
// error because the pipeline cannot proceed in an unsupported language.
func (c *Client) DetectLanguage(ctx context.Context, clip voice.AudioClip) (stt.Detection, error) {
	if clip.Empty() {
		return stt.Detection{}, fault.Newf(fault.KindValidation, "bhashini: empty audio clip")
	}

	req := pipelineRequest{
		PipelineTasks: []pipelineTask{{
			TaskType: taskLangDetect,
			Config:   taskConfig{AudioFormat: "wav", SamplingRate: c.sampleRate},
		}},
		InputData: inputData{
			Audio: []audioInput{{AudioContent: c.encodeClip(clip)}},
		},
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return stt.Detection{}, err
	}

	task := resp.task(taskLangDetect)
	if task == nil || len(task.Output) == 0 || len(task.Output[0].LangPrediction) == 0 {
		return stt.Detection{}, fault.Newf(fault.KindService, "bhashini: no language prediction in response")
	}

	best := task.Output[0].LangPrediction[0]
	for _, p := range task.Output[0].LangPrediction[1:] {
		if p.ScoreVal > best.ScoreVal {
			best = p
		}
	}

	tag, ok := tagForWireCode(best.LangCode)
	if !ok {
		return stt.Detection{}, fault.Newf(fault.KindService,
			"bhashini: detected unsupported language %q", best.LangCode)
	}
	return stt.Detection{Language: tag, Confidence: best.ScoreVal}, nil
}

// Transcribe implements [stt.Provider] using the ASR task.
func (c *Client) Transcribe(ctx context.Context, clip voice.AudioClip, lang voice.LanguageTag) (voice.Transcript, error) {
	if clip.Empty() {
		return voice.Transcript{}, fault.Newf(fault.KindValidation, "bhashini: empty audio clip")
	}
	code, err := wireCode(lang)
	if err != nil {
		return voice.Transcript{}, err
	}

	req := pipelineRequest{
		PipelineTasks: []pipelineTask{{
			TaskType: taskASR,
			Config: taskConfig{
				Language:     &languagePair{SourceLanguage: code},
				AudioFormat:  "wav",
				SamplingRate: c.sampleRate,
			},
		}},
		InputData: inputData{
			Audio: []audioInput{{AudioContent: c.encodeClip(clip)}},
		},
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return voice.Transcript{}, err
	}

	task := resp.task(taskASR)
	if task == nil || len(task.Output) == 0 {
		return voice.Transcript{}, fault.Newf(fault.KindService, "bhashini: no transcription in response")
	}
	out := task.Output[0]
	return voice.Transcript{
		Text:       out.Source,
		Language:   lang,
		Confidence: out.Confidence,
	}, nil
}

// Translate implements [translate.Provider] using the NMT task.
func (c *Client) Translate(ctx context.Context, text string, source, target voice.LanguageTag) (voice.Translation, error) {
	srcCode, err := wireCode(source)
	if err != nil {
		return voice.Translation{}, err
	}
	dstCode, err := wireCode(target)
	if err != nil {
		return voice.Translation{}, err
	}

	req := pipelineRequest{
		PipelineTasks: []pipelineTask{{
			TaskType: taskTranslation,
			Config: taskConfig{
				Language: &languagePair{SourceLanguage: srcCode, TargetLanguage: dstCode},
			},
		}},
		InputData: inputData{
			Input: []textInput{{Source: text}},
		},
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return voice.Translation{}, err
	}

	task := resp.task(taskTranslation)
	if task == nil || len(task.Output) == 0 {
		return voice.Translation{}, fault.Newf(fault.KindService, "bhashini: no translation in response")
	}
	out := task.Output[0]
	return voice.Translation{
		Text:       out.Target,
		Source:     source,
		Target:     target,
		Confidence: out.Confidence,
	}, nil
}

// Synthesize implements [tts.Provider] using the TTS task. The returned clip
// is mono PCM at the client's configured sample rate.
func (c *Client) Synthesize(ctx context.Context, text string, lang voice.LanguageTag) (voice.AudioClip, error) {
	code, err := wireCode(lang)
	if err != nil {
		return voice.AudioClip{}, err
	}

	req := pipelineRequest{
		PipelineTasks: []pipelineTask{{
			TaskType: taskTTS,
			Config: taskConfig{
				Language:     &languagePair{SourceLanguage: code},
				Gender:       c.voiceGender,
				SamplingRate: c.sampleRate,
			},
		}},
		InputData: inputData{
			Input: []textInput{{Source: text}},
		},
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return voice.AudioClip{}, err
	}

	task := resp.task(taskTTS)
	if task == nil || len(task.Audio) == 0 || task.Audio[0].AudioContent == "" {
		return voice.AudioClip{}, fault.Newf(fault.KindService, "bhashini: no audio in response")
	}

	raw, err := base64.StdEncoding.DecodeString(task.Audio[0].AudioContent)
	if err != nil {
		return voice.AudioClip{}, fault.New(fault.KindService,
			fmt.Errorf("bhashini: decode audio content: %w", err))
	}
	return voice.AudioClip{
		Data:       stripWAVHeader(raw),
		SampleRate: c.sampleRate,
		Channels:   1,
	}, nil
}

// encodeClip wraps the clip in a WAV container and base64-encodes it for the
// JSON payload.
func (c *Client) encodeClip(clip voice.AudioClip) string {
	sr := clip.SampleRate
	if sr <= 0 {
		sr = c.sampleRate
	}
	ch := clip.Channels
	if ch <= 0 {
		ch = 1
	}
	return base64.StdEncoding.EncodeToString(encodeWAV(clip.Data, sr, ch))
}

// post sends req to the inference endpoint and decodes the pipeline response.
// Transport failures and 5xx responses classify as transient; 4xx responses as
// permanent service errors.
func (c *Client) post(ctx context.Context, req pipelineRequest) (*pipelineResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("bhashini: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+inferencePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("bhashini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fault.New(fault.KindCancelled, ctx.Err())
		}
		return nil, fault.New(fault.KindTransient, fmt.Errorf("bhashini: http request: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		kind := fault.KindService
		if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
			kind = fault.KindTransient
		}
		return nil, fault.Newf(kind, "bhashini: server returned HTTP %d", httpResp.StatusCode)
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fault.New(fault.KindTransient, fmt.Errorf("bhashini: read response body: %w", err))
	}

	var resp pipelineResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fault.New(fault.KindService, fmt.Errorf("bhashini: parse JSON response: %w", err))
	}
	return &resp, nil
}
