package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/mandivoice/mandivoice/internal/event"
	"github.com/mandivoice/mandivoice/internal/health"
	"github.com/mandivoice/mandivoice/internal/observe"
	"github.com/mandivoice/mandivoice/internal/retry"
	"github.com/mandivoice/mandivoice/pkg/fault"
	"github.com/mandivoice/mandivoice/pkg/provider/stt"
	"github.com/mandivoice/mandivoice/pkg/provider/translate"
	"github.com/mandivoice/mandivoice/pkg/provider/tts"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

// Per-stage retry tuning. Tighter than the package defaults because the
// caller is waiting on a spoken reply.
const (
	stageMaxAttempts = 3
	stageBaseDelay   = 500 * time.Millisecond
)

// Corrector post-processes a transcription in its source language. The
// commodity-name corrector is the production implementation; tests supply
// their own.
type Corrector interface {
	Correct(text string, lang voice.LanguageTag) string
}

// Orchestrator sequences the four pipeline stages over a set of model
// providers. It is safe for concurrent use; each Process call is independent.
type Orchestrator struct {
	stt        stt.Provider
	translator translate.Provider
	tts        tts.Provider
	health     *health.Controller

	sink      event.Sink
	metrics   *observe.Metrics
	corrector Corrector
	budgets   Budgets
	baseDelay time.Duration
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithEventSink directs latency alerts to sink.
func WithEventSink(sink event.Sink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithMetrics enables stage and utterance metric recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCorrector installs a transcription post-processor, applied after a
// successful Transcribe stage.
func WithCorrector(c Corrector) Option {
	return func(o *Orchestrator) { o.corrector = c }
}

// WithBudgets overrides the default latency budgets.
func WithBudgets(b Budgets) Option {
	return func(o *Orchestrator) { o.budgets = b }
}

// WithRetryBaseDelay overrides the backoff base between stage attempts.
// Mainly useful in tests; production keeps the default.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.baseDelay = d
		}
	}
}

// New creates an Orchestrator over the given providers and health controller.
func New(sttProvider stt.Provider, translator translate.Provider, ttsProvider tts.Provider, hc *health.Controller, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stt:        sttProvider,
		translator: translator,
		tts:        ttsProvider,
		health:     hc,
		sink:       event.Discard,
		budgets:    DefaultBudgets(),
		baseDelay:  stageBaseDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs utt through the pipeline and returns the assembled response.
//
// Stage failures after retries and fallback surface as a classified error
// naming the stage, except a Synthesize failure on an utterance with
// AllowPartial set, which yields a partial response with empty audio.
// Cancellation aborts at the next retry boundary without recording the
// in-flight stage against the health controller.
func (o *Orchestrator) Process(ctx context.Context, utt Utterance) (*VoiceResponse, error) {
	if err := utt.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	resp := &VoiceResponse{Target: utt.Target}

	// Stage 1: DetectLanguage. Skipped when the utterance hints its source.
	source := utt.SourceHint
	if source != "" {
		resp.Outcomes = append(resp.Outcomes, skippedOutcome(StageDetect, start))
	} else {
		det, outcome, err := runStage(ctx, o, StageDetect, func(ctx context.Context) (stt.Detection, error) {
			return o.stt.DetectLanguage(ctx, utt.Audio)
		}, utt.Audio)
		outcome.Confidence = det.Confidence
		resp.Outcomes = append(resp.Outcomes, outcome)
		if err != nil {
			return nil, o.fail(ctx, resp, StageDetect, err, start)
		}
		if !det.Language.IsSupported() {
			err := fault.AtStage(fault.KindService, StageDetect.String(),
				fault.Newf(fault.KindService, "detected unsupported language %q", det.Language))
			return nil, o.fail(ctx, resp, StageDetect, err, start)
		}
		source = det.Language
	}
	resp.Source = source

	// Stage 2: Transcribe.
	transcript, outcome, err := runStage(ctx, o, StageTranscribe, func(ctx context.Context) (voice.Transcript, error) {
		return o.stt.Transcribe(ctx, utt.Audio, source)
	}, utt.Audio, source)
	outcome.Confidence = transcript.Confidence
	resp.Outcomes = append(resp.Outcomes, outcome)
	if err != nil {
		return nil, o.fail(ctx, resp, StageTranscribe, err, start)
	}
	text := transcript.Text
	if o.corrector != nil {
		text = o.corrector.Correct(text, source)
	}
	resp.Transcription = text

	// Stage 3: Translate. A no-op when the utterance is already in the target
	// language.
	if source == utt.Target {
		resp.Outcomes = append(resp.Outcomes, skippedOutcome(StageTranslate, time.Now()))
		resp.Translation = text
	} else {
		translation, outcome, err := runStage(ctx, o, StageTranslate, func(ctx context.Context) (voice.Translation, error) {
			return o.translator.Translate(ctx, text, source, utt.Target)
		}, text, source, utt.Target)
		outcome.Confidence = translation.Confidence
		resp.Outcomes = append(resp.Outcomes, outcome)
		if err != nil {
			return nil, o.fail(ctx, resp, StageTranslate, err, start)
		}
		resp.Translation = translation.Text
	}

	// Stage 4: Synthesize. The only stage whose failure may yield a partial
	// response.
	clip, outcome, err := runStage(ctx, o, StageSynthesize, func(ctx context.Context) (voice.AudioClip, error) {
		return o.tts.Synthesize(ctx, resp.Translation, utt.Target)
	}, resp.Translation, utt.Target)
	if err == nil {
		outcome.Confidence = 1.0
	}
	resp.Outcomes = append(resp.Outcomes, outcome)
	switch {
	case err == nil:
		resp.Audio = clip
	case utt.AllowPartial && !fault.IsCancelled(err) && !fault.IsValidation(err):
		resp.Partial = true
		resp.SynthesisErr = err
		slog.Warn("returning partial response without audio",
			"session_id", utt.SessionID, "error", err)
	default:
		return nil, o.fail(ctx, resp, StageSynthesize, err, start)
	}

	resp.TotalLatency = time.Since(start)
	o.checkBudgets(ctx, resp)

	if o.metrics != nil {
		status := "ok"
		if resp.Partial {
			status = "partial"
		}
		o.metrics.RecordUtterance(ctx, status, resp.TotalLatency)
	}
	return resp, nil
}

// fail finalises latency accounting for an aborted pipeline and returns the
// classified stage error.
func (o *Orchestrator) fail(ctx context.Context, resp *VoiceResponse, stage Stage, err error, start time.Time) error {
	resp.TotalLatency = time.Since(start)
	if o.metrics != nil {
		status := "error"
		if fault.IsCancelled(err) {
			status = "cancelled"
		}
		o.metrics.RecordUtterance(ctx, status, resp.TotalLatency)
	}
	return stageError(stage, err)
}

// stageError wraps err with the stage name, preserving cancellation and
// validation classifications and escalating everything else to a service
// error.
func stageError(stage Stage, err error) error {
	kind := fault.KindOf(err)
	switch kind {
	case fault.KindCancelled, fault.KindValidation:
		return fault.AtStage(kind, stage.String(), err)
	default:
		return fault.AtStage(fault.KindService, stage.String(), err)
	}
}

// skippedOutcome builds the synthetic outcome for a stage the skip rules
// elided: zero attempts, zero latency, confidence 1.0.
func skippedOutcome(stage Stage, at time.Time) StageOutcome {
	return StageOutcome{Stage: stage, Start: at, End: at, Confidence: 1.0, Skipped: true}
}

// runStage executes one stage under retry and health accounting. The retry
// loop runs inside the health wrapper so that one stage invocation records at
// most one success or failure, regardless of attempts. Each attempt gets a
// timeout of the stage budget times 1.5; expiry classifies as transient and is
// retried. args are the stage inputs, handed to a registered fallback so it
// can substitute for the primary provider. It is a package-level function
// because Go does not support method-level type parameters.
func runStage[T any](ctx context.Context, o *Orchestrator, stage Stage, op func(ctx context.Context) (T, error), args ...any) (T, StageOutcome, error) {
	attemptTimeout := o.budgets.For(stage) * 3 / 2
	retryCfg := retry.Config{
		MaxAttempts: stageMaxAttempts,
		BaseDelay:   o.baseDelay,
		RetryOn:     fault.IsTransient,
		Name:        stage.String(),
	}

	attempts := 0
	start := time.Now()
	result, viaFallback, err := health.Execute(ctx, o.health, stage.ServiceKind(), func(ctx context.Context) (T, error) {
		return retry.DoValue(ctx, retryCfg, func(ctx context.Context) (T, error) {
			attempts++
			attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
			defer cancel()
			return op(attemptCtx)
		})
	}, args...)
	end := time.Now()

	outcome := StageOutcome{
		Stage:       stage,
		Start:       start,
		End:         end,
		Attempts:    attempts,
		ViaFallback: viaFallback,
		Err:         err,
	}

	if o.metrics != nil {
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case viaFallback:
			status = "fallback"
		}
		o.metrics.RecordStage(ctx, stage.String(), status, outcome.Latency())
		if viaFallback {
			o.metrics.RecordFallback(ctx, stage.ServiceKind().String())
		}
	}
	return result, outcome, err
}

// checkBudgets emits a latency alert for every stage that overran its budget
// and for the total when it exceeds the end-to-end target. Alerts are
// advisory; the response already succeeded.
func (o *Orchestrator) checkBudgets(ctx context.Context, resp *VoiceResponse) {
	for _, outcome := range resp.Outcomes {
		if outcome.Skipped {
			continue
		}
		budget := o.budgets.For(outcome.Stage)
		if latency := outcome.Latency(); latency > budget {
			slog.Warn("stage exceeded latency budget",
				"stage", outcome.Stage, "measured", latency, "budget", budget)
			o.sink.Emit(event.LatencyAlert{
				Service:     outcome.Stage.String(),
				MeasuredMS:  latency.Milliseconds(),
				ThresholdMS: budget.Milliseconds(),
			})
		}
	}
	if resp.TotalLatency > o.budgets.Total {
		slog.Warn("pipeline exceeded total latency budget",
			"measured", resp.TotalLatency, "budget", o.budgets.Total)
		o.sink.Emit(event.LatencyAlert{
			Service:     "pipeline",
			MeasuredMS:  resp.TotalLatency.Milliseconds(),
			ThresholdMS: o.budgets.Total.Milliseconds(),
		})
	}
}
