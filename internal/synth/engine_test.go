package synth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-tts/internal/audio"
)

type periodSegmenter struct{}

func (periodSegmenter) Segment(text string) []string {
	var out []string
	for _, part := range strings.SplitAfter(text, ".") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type fakeAcoustic struct {
	mu       sync.Mutex
	requests []AcousticRequest
	converts []ConversionInput
	frames   int
	channels int
	failAt   int // segment index to fail at, -1 for never
	wrong    bool
}

func newFakeAcoustic() *fakeAcoustic {
	return &fakeAcoustic{frames: 100, channels: 80, failAt: -1}
}

func (f *fakeAcoustic) output(griffinLim bool) AcousticOutput {
	if griffinLim != f.wrong {
		return AcousticOutput{Waveform: tone(2048)}
	}
	feat := audio.NewFeatures(f.channels, f.frames)
	for i := range feat.Data {
		feat.Data[i] = float32(i%f.frames) / float32(f.frames)
	}
	return AcousticOutput{Features: &feat}
}

func (f *fakeAcoustic) Infer(ctx context.Context, req AcousticRequest) (AcousticOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == f.failAt {
		f.requests = append(f.requests, req)
		return AcousticOutput{}, errors.New("boom")
	}
	f.requests = append(f.requests, req)
	return f.output(req.UseGriffinLim), nil
}

func (f *fakeAcoustic) Convert(ctx context.Context, in ConversionInput) (AcousticOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.converts = append(f.converts, in)
	return f.output(in.UseGriffinLim), nil
}

func (f *fakeAcoustic) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests) + len(f.converts)
}

type fakeVocoder struct {
	mu       sync.Mutex
	inputs   []VocoderInput
	hop      int
	failCall int // 1-based call that fails, 0 for never
}

func (v *fakeVocoder) Infer(ctx context.Context, in VocoderInput) ([]float32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inputs = append(v.inputs, in)
	if len(v.inputs) == v.failCall {
		return nil, errors.New("vocoder exploded")
	}
	n := 0
	for _, f := range in.Batch {
		n += f.Frames * v.hop
	}
	return tone(n), nil
}

type fakeSpeakers struct {
	ids        map[string]int
	embeddings map[string][]float32
	clip       []float32
	clipCalls  int
}

func (s *fakeSpeakers) IDForName(name string) (int, error) {
	id, ok := s.ids[name]
	if !ok {
		return 0, fmt.Errorf("speaker %q: %w", name, ErrNotFound)
	}
	return id, nil
}

func (s *fakeSpeakers) EmbeddingForName(name string) ([]float32, error) {
	v, ok := s.embeddings[name]
	if !ok {
		return nil, fmt.Errorf("speaker %q: %w", name, ErrNotFound)
	}
	return v, nil
}

func (s *fakeSpeakers) EmbeddingFromClip(ctx context.Context, clips []string, device Device) ([]float32, error) {
	s.clipCalls++
	return s.clip, nil
}

type fakeLanguages map[string]int

func (l fakeLanguages) IDForName(name string) (int, error) {
	id, ok := l[name]
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

func tone(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/22050))
	}
	return out
}

func provider() *audio.Provider {
	return audio.NewProvider(22050, audio.STFTParams{FFTSize: 512, HopLength: 128, WinLength: 512}, audio.Stats{})
}

func baseConfig() EngineConfig {
	return EngineConfig{
		Acoustic:       AudioParams{SampleRate: 22050},
		PaddingSamples: 10000,
		Device:         CPU(),
	}
}

func newTestEngine(t *testing.T, cfg EngineConfig, c Components) *Engine {
	t.Helper()
	if c.Segmenter == nil {
		c.Segmenter = periodSegmenter{}
	}
	if c.Audio == nil {
		c.Audio = provider()
	}
	e, err := NewEngine(cfg, c, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func multiSpeakerIDs() (EngineConfig, *fakeSpeakers) {
	cfg := baseConfig()
	cfg.Speakers = SpeakerIDs
	return cfg, &fakeSpeakers{ids: map[string]int{"alice": 0, "bob": 1}}
}

func TestSingleSpeakerRejectsSelector(t *testing.T) {
	for _, withVocoder := range []bool{false, true} {
		cfg := baseConfig()
		c := Components{Acoustic: newFakeAcoustic()}
		if withVocoder {
			cfg.Vocoder = &AudioParams{SampleRate: 22050}
			c.Vocoder = &fakeVocoder{hop: 256}
		}
		e := newTestEngine(t, cfg, c)
		_, err := e.Synthesize(context.Background(), Request{Text: "Hello.", Speaker: "alice"})
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("vocoder=%v: expected ConfigurationError, got %v", withVocoder, err)
		}
		if calls := c.Acoustic.(*fakeAcoustic).calls(); calls != 0 {
			t.Fatalf("expected no model calls, got %d", calls)
		}
	}
}

func TestSingleSpeakerRejectsReferenceClip(t *testing.T) {
	acoustic := newFakeAcoustic()
	e := newTestEngine(t, baseConfig(), Components{Acoustic: acoustic})
	_, err := e.Synthesize(context.Background(), Request{Text: "Hello.", ReferenceClips: []string{"me.wav"}})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if calls := acoustic.calls(); calls != 0 {
		t.Fatalf("expected no model calls, got %d", calls)
	}
}

func TestHelloWorldGriffinLim(t *testing.T) {
	acoustic := newFakeAcoustic()
	e := newTestEngine(t, baseConfig(), Components{Acoustic: acoustic})

	res, err := e.Synthesize(context.Background(), Request{Text: "Hello world."})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Segments != 1 {
		t.Fatalf("expected 1 segment, got %d", res.Segments)
	}
	if len(res.Samples) != 2048 {
		t.Fatalf("expected the untouched segment without padding, got %d samples", len(res.Samples))
	}
	if res.SampleRate != 22050 {
		t.Fatalf("expected 22050 Hz, got %d", res.SampleRate)
	}
	if len(acoustic.requests) != 1 {
		t.Fatalf("expected one acoustic call, got %d", len(acoustic.requests))
	}
	req := acoustic.requests[0]
	if req.Text != "Hello world." || !req.UseGriffinLim || req.Speaker.Kind != NoSpeaker || req.Language.Set {
		t.Fatalf("unexpected acoustic request %+v", req)
	}
	if req.Device.String() != "cpu" {
		t.Fatalf("expected device cpu, got %s", req.Device)
	}
}

func TestUnknownSpeakerFailsBeforeInference(t *testing.T) {
	cfg, speakers := multiSpeakerIDs()
	acoustic := newFakeAcoustic()
	e := newTestEngine(t, cfg, Components{Acoustic: acoustic, Speakers: speakers})

	_, err := e.Synthesize(context.Background(), Request{Text: "Hi there.", Speaker: "carol"})
	var idErr *UnknownIdentityError
	if !errors.As(err, &idErr) {
		t.Fatalf("expected UnknownIdentityError, got %v", err)
	}
	if idErr.Kind != "speaker" || idErr.Name != "carol" {
		t.Fatalf("unexpected error fields %+v", idErr)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("UnknownIdentityError should match ErrNotFound")
	}
	if acoustic.calls() != 0 {
		t.Fatalf("expected no model calls, got %d", acoustic.calls())
	}
}

func TestRegisteredSpeakerResolvesToTableID(t *testing.T) {
	cfg, speakers := multiSpeakerIDs()
	acoustic := newFakeAcoustic()
	e := newTestEngine(t, cfg, Components{Acoustic: acoustic, Speakers: speakers})

	if _, err := e.Synthesize(context.Background(), Request{Text: "Hi.", Speaker: "bob"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	got := acoustic.requests[0].Speaker
	if got.Kind != SpeakerByID || got.ID != 1 {
		t.Fatalf("expected speaker id 1, got %s", got)
	}
}

func TestMissingSpeakerSelector(t *testing.T) {
	cfg, speakers := multiSpeakerIDs()
	e := newTestEngine(t, cfg, Components{Acoustic: newFakeAcoustic(), Speakers: speakers})
	_, err := e.Synthesize(context.Background(), Request{Text: "Hi."})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || !strings.Contains(cfgErr.Reason, "missing speaker selector") {
		t.Fatalf("expected missing speaker selector, got %v", err)
	}
}

func TestDVectorSpeaker(t *testing.T) {
	cfg := baseConfig()
	cfg.Speakers = SpeakerDVectors
	speakers := &fakeSpeakers{embeddings: map[string][]float32{"alice": {0.1, 0.2}}}
	acoustic := newFakeAcoustic()
	e := newTestEngine(t, cfg, Components{Acoustic: acoustic, Speakers: speakers})

	if _, err := e.Synthesize(context.Background(), Request{Text: "Hi.", Speaker: "alice"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	got := acoustic.requests[0].Speaker
	if got.Kind != SpeakerByEmbedding || len(got.Embedding) != 2 {
		t.Fatalf("expected stored embedding, got %s", got)
	}
	_, err := e.Synthesize(context.Background(), Request{Text: "Hi.", Speaker: "bob"})
	var idErr *UnknownIdentityError
	if !errors.As(err, &idErr) {
		t.Fatalf("expected UnknownIdentityError, got %v", err)
	}
}

func TestReferenceClipOverridesSelector(t *testing.T) {
	cfg, speakers := multiSpeakerIDs()
	cfg.HasEncoder = true
	speakers.clip = []float32{1, 2, 3}
	acoustic := newFakeAcoustic()
	e := newTestEngine(t, cfg, Components{Acoustic: acoustic, Speakers: speakers})

	if _, err := e.Synthesize(context.Background(), Request{Text: "Hi.", Speaker: "alice", ReferenceClips: []string{"ref.wav"}}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	got := acoustic.requests[0].Speaker
	if got.Kind != SpeakerByEmbedding || len(got.Embedding) != 3 {
		t.Fatalf("expected clip embedding, got %s", got)
	}

	// an unknown selector still fails even with a clip
	_, err := e.Synthesize(context.Background(), Request{Text: "Hi.", Speaker: "carol", ReferenceClips: []string{"ref.wav"}})
	var idErr *UnknownIdentityError
	if !errors.As(err, &idErr) {
		t.Fatalf("expected UnknownIdentityError, got %v", err)
	}
}

func TestReferenceClipWithoutEncoder(t *testing.T) {
	cfg, speakers := multiSpeakerIDs()
	e := newTestEngine(t, cfg, Components{Acoustic: newFakeAcoustic(), Speakers: speakers})
	_, err := e.Synthesize(context.Background(), Request{Text: "Hi.", ReferenceClips: []string{"ref.wav"}})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if speakers.clipCalls != 0 {
		t.Fatal("encoder should not be called")
	}
}

func TestEncoderOnlyMode(t *testing.T) {
	cfg := baseConfig()
	cfg.Speakers = SpeakerEncoderOnly
	cfg.HasEncoder = true
	speakers := &fakeSpeakers{clip: []float32{0.5}}
	acoustic := newFakeAcoustic()
	e := newTestEngine(t, cfg, Components{Acoustic: acoustic, Speakers: speakers})

	_, err := e.Synthesize(context.Background(), Request{Text: "Hi.", Speaker: "alice"})
	var idErr *UnknownIdentityError
	if !errors.As(err, &idErr) {
		t.Fatalf("expected UnknownIdentityError for named speaker, got %v", err)
	}
	if _, err := e.Synthesize(context.Background(), Request{Text: "Hi.", ReferenceClips: []string{"a.wav"}}); err != nil {
		t.Fatalf("Synthesize with clip: %v", err)
	}
	if acoustic.requests[0].Speaker.Kind != SpeakerByEmbedding {
		t.Fatalf("expected clip embedding, got %s", acoustic.requests[0].Speaker)
	}
}

func TestLanguageResolution(t *testing.T) {
	cases := []struct {
		name     string
		mode     LanguageMode
		selector string
		wantKind string
		wantID   int
	}{
		{name: "single no selector", mode: SingleLanguage},
		{name: "single with selector", mode: SingleLanguage, selector: "en", wantKind: "configuration"},
		{name: "ids missing", mode: LanguageIDs, wantKind: "configuration"},
		{name: "ids unknown", mode: LanguageIDs, selector: "xx", wantKind: "unknown_identity"},
		{name: "ids known", mode: LanguageIDs, selector: "fr", wantID: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Languages = tc.mode
			acoustic := newFakeAcoustic()
			e := newTestEngine(t, cfg, Components{Acoustic: acoustic, Languages: fakeLanguages{"en": 0, "fr": 1}})
			_, err := e.Synthesize(context.Background(), Request{Text: "Bonjour.", Language: tc.selector})
			if got := Kind(err); got != tc.wantKind {
				t.Fatalf("expected kind %q, got %q (%v)", tc.wantKind, got, err)
			}
			if tc.wantKind != "" {
				return
			}
			lang := acoustic.requests[0].Language
			if tc.mode == LanguageIDs && (!lang.Set || lang.ID != tc.wantID) {
				t.Fatalf("expected language id %d, got %+v", tc.wantID, lang)
			}
		})
	}
}

func TestVocoderRateMismatchStretchesFeatures(t *testing.T) {
	cfg := baseConfig()
	cfg.Vocoder = &AudioParams{SampleRate: 24000}
	acoustic := newFakeAcoustic()
	vocoder := &fakeVocoder{hop: 256}
	e := newTestEngine(t, cfg, Components{Acoustic: acoustic, Vocoder: vocoder})

	res, err := e.Synthesize(context.Background(), Request{Text: "First sentence. Second sentence."})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(vocoder.inputs) != 2 {
		t.Fatalf("expected two vocoder calls, got %d", len(vocoder.inputs))
	}
	for i, in := range vocoder.inputs {
		if len(in.Batch) != 1 {
			t.Fatalf("call %d: expected batch of one, got %d", i, len(in.Batch))
		}
		if f := in.Batch[0]; f.Frames != 108 || f.Channels != 80 {
			t.Fatalf("call %d: expected 80x108 features, got %dx%d", i, f.Channels, f.Frames)
		}
	}
	if acoustic.requests[0].UseGriffinLim {
		t.Fatal("griffin-lim must be off when a vocoder is attached")
	}
	segment := 108 * 256
	if want := 2*segment + 10000; len(res.Samples) != want {
		t.Fatalf("expected %d samples, got %d", want, len(res.Samples))
	}
	if res.SampleRate != 24000 {
		t.Fatalf("expected output at vocoder rate, got %d", res.SampleRate)
	}
}

func TestVocoderEqualRatesPassThrough(t *testing.T) {
	cfg := baseConfig()
	cfg.Vocoder = &AudioParams{SampleRate: 22050}
	acoustic := newFakeAcoustic()
	vocoder := &fakeVocoder{hop: 256}
	e := newTestEngine(t, cfg, Components{Acoustic: acoustic, Vocoder: vocoder})

	if _, err := e.Synthesize(context.Background(), Request{Text: "One."}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	got := vocoder.inputs[0].Batch[0]
	want := acoustic.output(false).Features
	if got.Frames != want.Frames || got.Channels != want.Channels {
		t.Fatalf("shape changed: %dx%d", got.Channels, got.Frames)
	}
	for i := range want.Data {
		if got.Data[i] != want.Data[i] {
			t.Fatalf("value %d changed", i)
		}
	}
}

func TestVocoderStageRenormalizesFeatures(t *testing.T) {
	acousticStats := audio.Stats{SignalNorm: true, Symmetric: true, MaxNorm: 4, MinLevelDB: -100, RefLevelDB: 20}
	vocoderStats := audio.Stats{SignalNorm: true, MaxNorm: 1, MinLevelDB: -80, RefLevelDB: 10}
	cfg := baseConfig()
	cfg.Acoustic.Stats = acousticStats
	cfg.Vocoder = &AudioParams{SampleRate: 22050, Stats: vocoderStats}
	acoustic := newFakeAcoustic()
	vocoder := &fakeVocoder{hop: 256}
	e := newTestEngine(t, cfg, Components{Acoustic: acoustic, Vocoder: vocoder})

	if _, err := e.Synthesize(context.Background(), Request{Text: "One."}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	src := *acoustic.output(false).Features
	db, err := audio.Denormalize(src, acousticStats)
	if err != nil {
		t.Fatalf("Denormalize: %v", err)
	}
	want, err := audio.Normalize(db, vocoderStats)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	swappedDB, _ := audio.Denormalize(src, vocoderStats)
	swapped, _ := audio.Normalize(swappedDB, acousticStats)

	got := vocoder.inputs[0].Batch[0]
	if got.Frames != want.Frames || got.Channels != want.Channels {
		t.Fatalf("shape changed: %dx%d", got.Channels, got.Frames)
	}
	differsFromSwapped := false
	for i := range want.Data {
		if math.Abs(float64(got.Data[i]-want.Data[i])) > 1e-4 {
			t.Fatalf("value %d: got %v, want %v", i, got.Data[i], want.Data[i])
		}
		if math.Abs(float64(got.Data[i]-swapped.Data[i])) > 1e-3 {
			differsFromSwapped = true
		}
	}
	if !differsFromSwapped {
		t.Fatal("vocoder input matches the reversed stats order")
	}
}

func TestVocoderErrorReportsSegment(t *testing.T) {
	cfg := baseConfig()
	cfg.Vocoder = &AudioParams{SampleRate: 22050}
	vocoder := &fakeVocoder{hop: 256, failCall: 2}
	e := newTestEngine(t, cfg, Components{Acoustic: newFakeAcoustic(), Vocoder: vocoder})

	res, err := e.Synthesize(context.Background(), Request{Text: "One. Two. Three."})
	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
	if infErr.Stage != StageVocoder || infErr.Segment != 1 {
		t.Fatalf("unexpected error fields %+v", infErr)
	}
	if res.Samples != nil {
		t.Fatal("no partial waveform may be returned")
	}
	if len(vocoder.inputs) != 2 {
		t.Fatalf("expected processing to stop after the failure, got %d vocoder calls", len(vocoder.inputs))
	}
}

func TestReconcilerIdentityForAnyShape(t *testing.T) {
	r, err := NewReconciler(16000, 16000, provider())
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}
	for _, shape := range [][2]int{{1, 1}, {80, 3}, {513, 57}} {
		f := audio.NewFeatures(shape[0], shape[1])
		for i := range f.Data {
			f.Data[i] = float32(i)
		}
		in, err := r.Reconcile(f, CPU())
		if err != nil {
			t.Fatalf("Reconcile %v: %v", shape, err)
		}
		out := in.Batch[0]
		if out.Channels != f.Channels || out.Frames != f.Frames {
			t.Fatalf("shape %v changed to %dx%d", shape, out.Channels, out.Frames)
		}
	}
}

func TestReconcilerRejectsMalformedFeatures(t *testing.T) {
	r, err := NewReconciler(22050, 24000, provider())
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}
	_, err = r.Reconcile(audio.Features{Channels: 2, Frames: 5, Data: make([]float32, 3)}, CPU())
	if !errors.Is(err, audio.ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestInferenceErrorReportsSegment(t *testing.T) {
	acoustic := newFakeAcoustic()
	acoustic.failAt = 1
	e := newTestEngine(t, baseConfig(), Components{Acoustic: acoustic})

	res, err := e.Synthesize(context.Background(), Request{Text: "One. Two. Three."})
	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
	if infErr.Segment != 1 || infErr.Stage != StageAcoustic {
		t.Fatalf("unexpected error fields %+v", infErr)
	}
	if res.Samples != nil {
		t.Fatal("no partial waveform may be returned")
	}
	if len(acoustic.requests) != 2 {
		t.Fatalf("expected processing to stop after the failure, got %d calls", len(acoustic.requests))
	}
}

func TestWrongAcousticOutputForm(t *testing.T) {
	acoustic := newFakeAcoustic()
	acoustic.wrong = true
	e := newTestEngine(t, baseConfig(), Components{Acoustic: acoustic})
	_, err := e.Synthesize(context.Background(), Request{Text: "One."})
	var infErr *InferenceError
	if !errors.As(err, &infErr) || infErr.Segment != 0 {
		t.Fatalf("expected InferenceError at segment 0, got %v", err)
	}
}

func TestEmptyTextYieldsEmptyResult(t *testing.T) {
	acoustic := newFakeAcoustic()
	e := newTestEngine(t, baseConfig(), Components{Acoustic: acoustic})
	res, err := e.Synthesize(context.Background(), Request{Text: "   "})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(res.Samples) != 0 || res.Segments != 0 || res.RealTimeFactor != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if acoustic.calls() != 0 {
		t.Fatal("no model call expected for empty text")
	}
}

func TestNewEngineVocoderMismatch(t *testing.T) {
	cfg := baseConfig()
	_, err := NewEngine(cfg, Components{Segmenter: periodSegmenter{}, Acoustic: newFakeAcoustic(), Vocoder: &fakeVocoder{}, Audio: provider()}, nil)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	cfg.Vocoder = &AudioParams{SampleRate: 24000}
	if _, err := NewEngine(cfg, Components{Segmenter: periodSegmenter{}, Acoustic: newFakeAcoustic(), Audio: provider()}, nil); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError without vocoder, got %v", err)
	}
}

func TestConvert(t *testing.T) {
	cfg, speakers := multiSpeakerIDs()
	acoustic := newFakeAcoustic()
	e := newTestEngine(t, cfg, Components{Acoustic: acoustic, Speakers: speakers})

	res, err := e.Convert(context.Background(), ConversionRequest{SourceSpeaker: "alice", TargetSpeaker: "bob"})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Segments != 1 || len(res.Samples) != 2048 {
		t.Fatalf("unexpected result: %d segments, %d samples", res.Segments, len(res.Samples))
	}
	in := acoustic.converts[0]
	if in.Source.ID != 0 || in.Target.ID != 1 || in.Features != nil {
		t.Fatalf("unexpected conversion input %+v", in)
	}

	_, err = e.Convert(context.Background(), ConversionRequest{SourceSpeaker: "alice"})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || !strings.Contains(cfgErr.Reason, "missing speaker selector") {
		t.Fatalf("expected missing speaker selector, got %v", err)
	}
	_, err = e.Convert(context.Background(), ConversionRequest{SourceSpeaker: "alice", TargetSpeaker: "carol"})
	var idErr *UnknownIdentityError
	if !errors.As(err, &idErr) {
		t.Fatalf("expected UnknownIdentityError, got %v", err)
	}
}

func TestConvertWithReferenceClip(t *testing.T) {
	clip := filepath.Join(t.TempDir(), "source.wav")
	if err := audio.SaveWAV(clip, tone(4410), 22050); err != nil {
		t.Fatalf("SaveWAV: %v", err)
	}
	cfg, speakers := multiSpeakerIDs()
	cfg.HasEncoder = true
	cfg.Vocoder = &AudioParams{SampleRate: 22050}
	speakers.clip = []float32{9, 9}
	acoustic := newFakeAcoustic()
	vocoder := &fakeVocoder{hop: 256}
	e := newTestEngine(t, cfg, Components{Acoustic: acoustic, Speakers: speakers, Vocoder: vocoder})

	res, err := e.Convert(context.Background(), ConversionRequest{TargetSpeaker: "bob", ReferenceClips: []string{clip}})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	in := acoustic.converts[0]
	if in.Features == nil || in.Features.Channels != 257 || in.Features.Frames != 1+4410/128 {
		t.Fatalf("expected clip spectrogram features, got %+v", in.Features)
	}
	if in.Source.Kind != SpeakerByEmbedding || in.Target.Kind != SpeakerByID || in.Target.ID != 1 {
		t.Fatalf("unexpected identities %s -> %s", in.Source, in.Target)
	}
	if in.UseGriffinLim {
		t.Fatal("griffin-lim must be off with a vocoder")
	}
	if len(res.Samples) != 100*256 {
		t.Fatalf("expected %d samples, got %d", 100*256, len(res.Samples))
	}
}

func TestConvertRejectsUnsupportedModes(t *testing.T) {
	for _, mode := range []SpeakerMode{SingleSpeaker, SpeakerEncoderOnly} {
		cfg := baseConfig()
		cfg.Speakers = mode
		cfg.HasEncoder = mode == SpeakerEncoderOnly
		e := newTestEngine(t, cfg, Components{Acoustic: newFakeAcoustic(), Speakers: &fakeSpeakers{}})
		_, err := e.Convert(context.Background(), ConversionRequest{SourceSpeaker: "a", TargetSpeaker: "b"})
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("mode %s: expected ConfigurationError, got %v", mode, err)
		}
	}
}

func TestAssembler(t *testing.T) {
	asm := Assembler{Padding: 3}
	if got := asm.Assemble(nil); len(got) != 0 {
		t.Fatalf("assemble([]) = %v", got)
	}
	a := []float32{1, 2}
	if got := asm.Assemble([][]float32{a}); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("assemble([a]) = %v", got)
	}
	b := []float32{7}
	got := asm.Assemble([][]float32{a, b})
	want := []float32{1, 2, 0, 0, 0, 7}
	if len(got) != len(want) {
		t.Fatalf("assemble([a,b]) = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("assemble([a,b]) = %v, want %v", got, want)
		}
	}
	got[0] = 42
	if a[0] != 1 {
		t.Fatal("assemble must not alias its segments")
	}
}

func TestModelFlagsModes(t *testing.T) {
	cases := []struct {
		flags    ModelFlags
		speakers SpeakerMode
		langs    LanguageMode
	}{
		{ModelFlags{}, SingleSpeaker, SingleLanguage},
		{ModelFlags{UseSpeakerEmbedding: true}, SpeakerIDs, SingleLanguage},
		{ModelFlags{UseSpeakerEmbedding: true, UseDVectorFile: true}, SpeakerDVectors, SingleLanguage},
		{ModelFlags{HasSpeakerEncoder: true}, SpeakerEncoderOnly, SingleLanguage},
		{ModelFlags{UseSpeakerEmbedding: true, HasSpeakerEncoder: true, UseLanguageEmbedding: true}, SpeakerIDs, LanguageIDs},
	}
	for _, tc := range cases {
		s, l := tc.flags.Modes()
		if s != tc.speakers || l != tc.langs {
			t.Fatalf("%+v: got %s/%s, want %s/%s", tc.flags, s, l, tc.speakers, tc.langs)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	cases := map[string]error{
		"configuration":    &ConfigurationError{Reason: "x"},
		"unknown_identity": fmt.Errorf("wrapped: %w", &UnknownIdentityError{Kind: "speaker", Name: "x"}),
		"inference":        &InferenceError{Stage: StageVocoder, Segment: 2, Err: errors.New("x")},
		"reconciliation":   &ReconciliationError{Segment: -1, Err: errors.New("x")},
		"internal":         errors.New("x"),
		"":                 nil,
	}
	for want, err := range cases {
		if got := Kind(err); got != want {
			t.Fatalf("Kind(%v) = %q, want %q", err, got, want)
		}
	}
	if !IsClientError(&ConfigurationError{}) || IsClientError(&InferenceError{Err: errors.New("x")}) {
		t.Fatal("IsClientError misclassified")
	}
}
