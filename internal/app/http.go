package app

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mandivoice/mandivoice/internal/feedback"
	"github.com/mandivoice/mandivoice/internal/health"
	"github.com/mandivoice/mandivoice/internal/negotiate"
	"github.com/mandivoice/mandivoice/internal/observe"
	"github.com/mandivoice/mandivoice/internal/pipeline"
	"github.com/mandivoice/mandivoice/internal/session"
	"github.com/mandivoice/mandivoice/pkg/audio"
	"github.com/mandivoice/mandivoice/pkg/fault"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

// Handler builds the HTTP API. All /v1 routes run behind the observability
// middleware (tracing, correlation IDs, request metrics).
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/utterances", a.handleUtterance)
	mux.HandleFunc("POST /v1/sessions", a.handleOpenSession)
	mux.HandleFunc("GET /v1/sessions", a.handleListSessions)
	mux.HandleFunc("POST /v1/sessions/{id}/switch", a.handleSwitch)
	mux.HandleFunc("POST /v1/sessions/{id}/end", a.handleEndSession)
	mux.HandleFunc("GET /v1/sessions/{id}/messages", a.handleSessionMessages)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", a.handleInboundMessage)
	mux.HandleFunc("POST /v1/messages", a.handleAppendMessage)
	mux.HandleFunc("POST /v1/suggestions", a.handleSuggest)
	mux.HandleFunc("POST /v1/feedback", a.handleFeedback)

	health.NewHandler(a.health).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if a.broadcaster != nil {
		mux.Handle("GET /events", a.broadcaster)
	}

	return observe.Middleware(a.metrics)(mux)
}

// utteranceRequest is the JSON body of POST /v1/utterances. Audio is
// base64-encoded 16-bit PCM.
type utteranceRequest struct {
	Audio        string `json:"audio"`
	SampleRate   int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
	SourceHint   string `json:"source_hint,omitempty"`
	Target       string `json:"target"`
	SessionID    string `json:"session_id,omitempty"`
	AllowPartial *bool  `json:"allow_partial,omitempty"`
}

type stageResult struct {
	Stage       string  `json:"stage"`
	LatencyMS   int64   `json:"latency_ms"`
	Attempts    int     `json:"attempts"`
	Confidence  float64 `json:"confidence"`
	ViaFallback bool    `json:"via_fallback,omitempty"`
	Skipped     bool    `json:"skipped,omitempty"`
}

type utteranceResponse struct {
	Transcription  string        `json:"transcription"`
	Translation    string        `json:"translation"`
	Source         string        `json:"source"`
	Target         string        `json:"target"`
	Audio          string        `json:"audio,omitempty"`
	Partial        bool          `json:"partial,omitempty"`
	SynthesisError string        `json:"synthesis_error,omitempty"`
	TotalLatencyMS int64         `json:"total_latency_ms"`
	Stages         []stageResult `json:"stages"`
}

func (a *App) handleUtterance(w http.ResponseWriter, r *http.Request) {
	if a.orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "voice pipeline is not configured")
		return
	}

	var req utteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pcm, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio must be base64-encoded PCM")
		return
	}

	allowPartial := a.cfg.Pipeline.AllowPartial
	if req.AllowPartial != nil {
		allowPartial = *req.AllowPartial
	}

	clip, err := audio.Normalize(voice.AudioClip{
		Data:       pcm,
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
	}, a.speechFormat)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	utt := pipeline.Utterance{
		Audio:        clip,
		SourceHint:   voice.LanguageTag(req.SourceHint),
		Target:       voice.LanguageTag(req.Target),
		SessionID:    req.SessionID,
		AllowPartial: allowPartial,
	}

	resp, err := a.orchestrator.Process(r.Context(), utt)
	if err != nil {
		writeFault(w, err)
		return
	}

	out := utteranceResponse{
		Transcription:  resp.Transcription,
		Translation:    resp.Translation,
		Source:         string(resp.Source),
		Target:         string(resp.Target),
		Partial:        resp.Partial,
		TotalLatencyMS: resp.TotalLatency.Milliseconds(),
	}
	if len(resp.Audio.Data) > 0 {
		out.Audio = base64.StdEncoding.EncodeToString(resp.Audio.Data)
	}
	if resp.SynthesisErr != nil {
		out.SynthesisError = resp.SynthesisErr.Error()
	}
	for _, o := range resp.Outcomes {
		out.Stages = append(out.Stages, stageResult{
			Stage:       o.Stage.String(),
			LatencyMS:   o.Latency().Milliseconds(),
			Attempts:    o.Attempts,
			Confidence:  o.Confidence,
			ViaFallback: o.ViaFallback,
			Skipped:     o.Skipped,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type openSessionRequest struct {
	Owner        string   `json:"owner"`
	Participants []string `json:"participants"`
	Commodity    string   `json:"commodity,omitempty"`
}

func (a *App) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := a.sessions.OpenSession(r.Context(), req.Owner, req.Participants, req.Commodity)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (a *App) handleListSessions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.Sessions(owner))
}

func (a *App) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sw, err := a.sessions.SwitchTo(req.Owner, r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sw)
}

func (a *App) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner  string `json:"owner"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var final session.Status
	switch req.Status {
	case "completed":
		final = session.StatusCompleted
	case "abandoned":
		final = session.StatusAbandoned
	default:
		writeError(w, http.StatusBadRequest, "status must be completed or abandoned")
		return
	}

	if err := a.sessions.EndSession(r.Context(), req.Owner, r.PathValue("id"), final); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.sessions.Context(r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *App) handleInboundMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sender   string `json:"sender"`
		Text     string `json:"text"`
		Language string `json:"language,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	msg, err := a.sessions.AppendInbound(r.Context(), r.PathValue("id"), req.Sender, req.Text, voice.LanguageTag(req.Language))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *App) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner    string `json:"owner"`
		Text     string `json:"text"`
		Language string `json:"language,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	msg, err := a.sessions.Append(r.Context(), req.Owner, req.Text, voice.LanguageTag(req.Language))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *App) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if a.suggester == nil {
		writeError(w, http.StatusServiceUnavailable, "negotiation suggestions are not configured")
		return
	}

	var req struct {
		Owner     string `json:"owner"`
		SessionID string `json:"session_id"`
		Language  string `json:"language,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, err := a.sessions.Get(req.Owner, req.SessionID)
	if err != nil {
		writeFault(w, err)
		return
	}
	history, err := a.sessions.Context(req.SessionID)
	if err != nil {
		writeFault(w, err)
		return
	}

	suggestion, err := a.suggester.Suggest(r.Context(), negotiate.Request{
		Owner:     req.Owner,
		Commodity: sess.Commodity,
		Language:  voice.LanguageTag(req.Language),
		History:   history,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": suggestion.Reply})
}

func (a *App) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if a.feedback == nil {
		writeError(w, http.StatusServiceUnavailable, "feedback collection is not configured")
		return
	}

	var req struct {
		Owner               string `json:"owner"`
		SessionID           string `json:"session_id"`
		AudioQuality        int    `json:"audio_quality"`
		TranslationAccuracy int    `json:"translation_accuracy"`
		ResponseSpeed       int    `json:"response_speed"`
		Comments            string `json:"comments,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// The session must belong to the rating owner.
	if _, err := a.sessions.Get(req.Owner, req.SessionID); err != nil {
		writeFault(w, err)
		return
	}

	rec := feedback.Record{
		SessionID:           req.SessionID,
		Owner:               req.Owner,
		AudioQuality:        req.AudioQuality,
		TranslationAccuracy: req.TranslationAccuracy,
		ResponseSpeed:       req.ResponseSpeed,
		Comments:            req.Comments,
	}
	if err := rec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.feedback.Save(rec); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// writeFault maps domain errors to HTTP status codes.
func writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNoForeground),
		errors.Is(err, session.ErrInactiveSession),
		errors.Is(err, session.ErrTerminalChange):
		status = http.StatusConflict
	default:
		switch fault.KindOf(err) {
		case fault.KindValidation:
			status = http.StatusBadRequest
		case fault.KindCapacity:
			status = http.StatusTooManyRequests
		case fault.KindCancelled:
			// Client went away; the status is mostly for logs.
			status = http.StatusBadRequest
		case fault.KindService, fault.KindTransient:
			status = http.StatusBadGateway
		case fault.KindCritical:
			status = http.StatusServiceUnavailable
		}
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}
