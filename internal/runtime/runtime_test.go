package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/eventstore"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	bundle, err := engine.Build(config.Default().Engine, newLogger())
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(bundle.Close)

	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mux := http.NewServeMux()
	(&api{engine: bundle.Engine, info: bundle.Info(), store: store, log: newLogger()}).register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestTTSReturnsWAV(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/tts?" + url.Values{"text": {"Hello world."}}.Encode())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) <= 44 || string(body[:4]) != "RIFF" || string(body[8:12]) != "WAVE" {
		t.Fatalf("expected a WAV file, got %d bytes", len(body))
	}

	id := resp.Header.Get("X-Request-ID")
	if id == "" {
		t.Fatal("expected request id header")
	}
	hist, err := http.Get(srv.URL + "/api/requests/" + id)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	defer hist.Body.Close()
	var view requestView
	if err := json.NewDecoder(hist.Body).Decode(&view); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if view.Status != eventstore.StatusCompleted || view.Source != "http" || len(view.Events) != 2 {
		t.Fatalf("unexpected request history %+v", view)
	}
}

func TestTTSClientErrorIs400(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/tts?" + url.Values{"text": {"Hello."}, "speaker_id": {"carol"}}.Encode())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Kind != "configuration" {
		t.Fatalf("unexpected error kind %q", body.Kind)
	}
}

func TestVoicesAndMissingRequest(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/voices")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var info engine.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.SpeakerMode != "single" || info.SampleRate != 22050 || info.Device != "cpu" {
		t.Fatalf("unexpected info %+v", info)
	}

	missing, err := http.Get(srv.URL + "/api/requests/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func TestReadyRequiresStart(t *testing.T) {
	cfg := config.Default()
	cfg.Bus.Enabled = false
	rt := New(cfg, newLogger())

	rec := httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", rec.Code)
	}

	rt.ready.Store(true)
	rec = httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once ready, got %d", rec.Code)
	}
}
