package runtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/eventstore"
	"github.com/loqalabs/loqa-tts/internal/synth"
	"github.com/loqalabs/loqa-tts/internal/tts"
)

const httpSource = "http"

// api serves synthesis over HTTP.
type api struct {
	engine tts.Engine
	info   engine.Info
	store  *eventstore.Store
	log    *slog.Logger
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tts", a.handleTTS)
	mux.HandleFunc("POST /api/tts", a.handleTTS)
	mux.HandleFunc("GET /api/voices", a.handleVoices)
	mux.HandleFunc("GET /api/requests/{id}", a.handleRequest)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// handleTTS synthesizes the text query parameter and returns a WAV file.
// speaker_id and language_id select table entries, speaker_wav may repeat.
func (a *api) handleTTS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	req := synth.Request{
		Text:           r.Form.Get("text"),
		Speaker:        strings.TrimSpace(r.Form.Get("speaker_id")),
		Language:       strings.TrimSpace(r.Form.Get("language_id")),
		ReferenceClips: r.Form["speaker_wav"],
		StyleRef:       r.Form.Get("style_wav"),
	}
	id := uuid.NewString()
	w.Header().Set("X-Request-ID", id)

	ctx := r.Context()
	if err := a.store.BeginRequest(ctx, eventstore.Request{
		ID:        id,
		Operation: "synthesize",
		Source:    httpSource,
		Speaker:   req.Speaker,
		Language:  req.Language,
	}, map[string]any{"text": req.Text}); err != nil {
		a.log.Warn("failed to record request", slog.String("request_id", id), slog.String("error", err.Error()))
	}

	res, err := a.engine.Synthesize(ctx, req)
	if err != nil {
		a.fail(ctx, w, id, err)
		return
	}

	data, err := audio.EncodeWAVBytes(res.Samples, res.SampleRate)
	if err != nil {
		a.fail(ctx, w, id, err)
		return
	}
	if err := a.store.CompleteRequest(ctx, id, httpSource, eventstore.Completion{
		Samples:        len(res.Samples),
		SampleRate:     res.SampleRate,
		Segments:       res.Segments,
		ProcessingMS:   res.ProcessingTime.Milliseconds(),
		RealTimeFactor: res.RealTimeFactor,
	}); err != nil {
		a.log.Warn("failed to record completion", slog.String("request_id", id), slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *api) fail(ctx context.Context, w http.ResponseWriter, id string, err error) {
	kind := synth.Kind(err)
	if serr := a.store.FailRequest(context.WithoutCancel(ctx), id, httpSource, eventstore.Failure{Kind: kind, Message: err.Error()}); serr != nil {
		a.log.Warn("failed to record failure", slog.String("request_id", id), slog.String("error", serr.Error()))
	}
	status := http.StatusInternalServerError
	if synth.IsClientError(err) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func (a *api) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.info)
}

type requestView struct {
	ID        string      `json:"id"`
	Operation string      `json:"operation"`
	Source    string      `json:"source"`
	Speaker   string      `json:"speaker,omitempty"`
	Language  string      `json:"language,omitempty"`
	Status    string      `json:"status"`
	Events    []eventView `json:"events"`
}

type eventView struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      string          `json:"at"`
}

func (a *api) handleRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, err := a.store.GetRequest(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "request not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	events, err := a.store.ListRequestEvents(r.Context(), id, 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	view := requestView{
		ID:        req.ID,
		Operation: req.Operation,
		Source:    req.Source,
		Speaker:   req.Speaker,
		Language:  req.Language,
		Status:    req.Status,
		Events:    make([]eventView, 0, len(events)),
	}
	for _, e := range events {
		ev := eventView{Type: e.Type, At: e.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00")}
		if len(e.Payload) > 0 {
			ev.Payload = e.Payload
		}
		view.Events = append(view.Events, ev)
	}
	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
