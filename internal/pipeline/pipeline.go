// Package pipeline implements the voice interaction pipeline: one utterance
// in, one translated spoken reply out.
//
// The [Orchestrator] runs four stages strictly in sequence — DetectLanguage,
// Transcribe, Translate, Synthesize — with per-stage retry, health accounting,
// fallback dispatch, and latency budgets. Distinct utterances are independent
// and may be processed concurrently; the orchestrator holds no per-utterance
// state between calls.
package pipeline

import (
	"time"

	"github.com/mandivoice/mandivoice/internal/health"
	"github.com/mandivoice/mandivoice/pkg/fault"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

// Stage identifies one of the four sequential pipeline steps.
type Stage int

const (
	StageDetect Stage = iota
	StageTranscribe
	StageTranslate
	StageSynthesize
)

// allStages lists the stages in execution order.
var allStages = []Stage{StageDetect, StageTranscribe, StageTranslate, StageSynthesize}

// String returns the lower-snake name of the stage.
func (s Stage) String() string {
	switch s {
	case StageDetect:
		return "detect_language"
	case StageTranscribe:
		return "transcribe"
	case StageTranslate:
		return "translate"
	case StageSynthesize:
		return "synthesize"
	default:
		return "unknown"
	}
}

// ServiceKind returns the health controller kind that backs this stage.
// Language detection shares the STT kind because it is typically the same
// model.
func (s Stage) ServiceKind() health.ServiceKind {
	switch s {
	case StageDetect, StageTranscribe:
		return health.STT
	case StageTranslate:
		return health.Translation
	default:
		return health.TTS
	}
}

// Budgets holds the per-stage and total latency targets. Exceeding a budget
// logs a warning and emits a latency alert; it does not fail the response.
// The effective per-attempt timeout of each stage is its budget times 1.5.
type Budgets struct {
	Detect     time.Duration
	Transcribe time.Duration
	Translate  time.Duration
	Synthesize time.Duration
	Total      time.Duration
}

// DefaultBudgets returns the design-target latency budgets.
func DefaultBudgets() Budgets {
	return Budgets{
		Detect:     2000 * time.Millisecond,
		Transcribe: 3000 * time.Millisecond,
		Translate:  2000 * time.Millisecond,
		Synthesize: 2000 * time.Millisecond,
		Total:      8000 * time.Millisecond,
	}
}

// For returns the budget for one stage.
func (b Budgets) For(s Stage) time.Duration {
	switch s {
	case StageDetect:
		return b.Detect
	case StageTranscribe:
		return b.Transcribe
	case StageTranslate:
		return b.Translate
	default:
		return b.Synthesize
	}
}

// Utterance is one immutable inbound voice request. It is created at the API
// edge and consumed exactly once by [Orchestrator.Process].
type Utterance struct {
	// Audio is the raw input clip. Must be non-empty.
	Audio voice.AudioClip

	// SourceHint optionally names the spoken language. When non-empty the
	// DetectLanguage stage is skipped and the hint is trusted with confidence
	// 1.0.
	SourceHint voice.LanguageTag

	// Target is the language of the spoken reply. Must be a supported tag.
	Target voice.LanguageTag

	// SessionID optionally ties the utterance to a conversation session. The
	// pipeline itself only carries it through; it is opaque here.
	SessionID string

	// AllowPartial permits a response with empty audio when the Synthesize
	// stage fails after retries and fallback. All other stage failures still
	// produce an error.
	AllowPartial bool
}

// Validate checks the utterance at the pipeline edge. Validation failures are
// surfaced immediately, are never retried, and have no health impact.
func (u Utterance) Validate() error {
	if u.Audio.Empty() {
		return fault.Newf(fault.KindValidation, "utterance carries no audio")
	}
	if !u.Target.IsSupported() {
		return fault.Newf(fault.KindValidation, "unsupported target language %q", u.Target)
	}
	if u.SourceHint != "" && !u.SourceHint.IsSupported() {
		return fault.Newf(fault.KindValidation, "unsupported source language hint %q", u.SourceHint)
	}
	return nil
}

// StageOutcome records one stage execution: timing, attempts, confidence, and
// whether the result came from a fallback handler. Skipped stages carry a
// synthetic outcome with zero attempts and confidence 1.0.
type StageOutcome struct {
	Stage       Stage
	Start       time.Time
	End         time.Time
	Attempts    int
	Confidence  float64
	ViaFallback bool
	Skipped     bool

	// Err is set when the stage failed after retries and fallback. At most
	// one of Err and a successful result exists per stage per utterance.
	Err error
}

// Latency returns the wall-clock duration of the stage.
func (o StageOutcome) Latency() time.Duration {
	if o.End.Before(o.Start) {
		return 0
	}
	return o.End.Sub(o.Start)
}

// VoiceResponse is the aggregate pipeline result. It is present iff all four
// stages produced a non-error outcome, or the utterance allowed a partial
// response and at least transcription and translation succeeded.
type VoiceResponse struct {
	// Audio is the synthesized reply. Empty iff Partial is true.
	Audio voice.AudioClip

	// Transcription is the recognised text in the source language, after any
	// commodity-name correction.
	Transcription string

	// Translation is the reply text in the target language. Equal to
	// Transcription when source and target match.
	Translation string

	// Source is the resolved source language: the hint when given, otherwise
	// the detection result.
	Source voice.LanguageTag

	// Target is the requested reply language.
	Target voice.LanguageTag

	// TotalLatency is the end-to-end wall-clock duration of Process.
	TotalLatency time.Duration

	// Outcomes records every stage in execution order, skipped stages
	// included.
	Outcomes []StageOutcome

	// Partial is true when Synthesize failed but the utterance allowed a
	// partial response. Audio is empty in that case and SynthesisErr carries
	// the failure.
	Partial bool

	// SynthesisErr is the Synthesize failure behind a partial response. Nil
	// for complete responses.
	SynthesisErr error
}

// StageLatencies returns the per-stage wall-clock durations keyed by stage.
func (r *VoiceResponse) StageLatencies() map[Stage]time.Duration {
	out := make(map[Stage]time.Duration, len(r.Outcomes))
	for _, o := range r.Outcomes {
		out[o.Stage] = o.Latency()
	}
	return out
}

// StageConfidences returns the per-stage confidence scores keyed by stage.
func (r *VoiceResponse) StageConfidences() map[Stage]float64 {
	out := make(map[Stage]float64, len(r.Outcomes))
	for _, o := range r.Outcomes {
		out[o.Stage] = o.Confidence
	}
	return out
}

// Attempts returns how many attempts the given stage consumed, or zero when
// the stage was skipped or never ran.
func (r *VoiceResponse) Attempts(s Stage) int {
	for _, o := range r.Outcomes {
		if o.Stage == s {
			return o.Attempts
		}
	}
	return 0
}
