package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Components are the collaborators an Engine drives. Vocoder must be set
// exactly when the configuration carries vocoder parameters.
type Components struct {
	Segmenter Segmenter
	Acoustic  AcousticModel
	Vocoder   Vocoder
	Speakers  SpeakerStore
	Languages LanguageStore
	Audio     Transformer
}

// Request is a text synthesis request.
type Request struct {
	Text           string
	Speaker        string
	Language       string
	ReferenceClips []string
	StyleRef       string
}

// ConversionRequest converts a source voice into a target voice.
type ConversionRequest struct {
	SourceSpeaker  string
	TargetSpeaker  string
	ReferenceClips []string
	StyleRef       string
}

// Result is a finished waveform plus timing diagnostics.
type Result struct {
	Samples        []float32
	SampleRate     int
	Segments       int
	ProcessingTime time.Duration
	// RealTimeFactor is processing time over audio duration, zero when no
	// audio was produced. It is informational only.
	RealTimeFactor float64
}

// Duration is the length of the produced audio.
func (r Result) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(r.Samples)) / float64(r.SampleRate) * float64(time.Second))
}

// Engine is safe for concurrent use as long as its collaborators are.
type Engine struct {
	cfg       EngineConfig
	log       *slog.Logger
	segmenter Segmenter
	acoustic  AcousticModel
	tf        Transformer
	resolver  *Resolver
	vocoder   *vocoderStage
	assembler Assembler
	tracer    trace.Tracer
	metrics   *engineMetrics
}

// NewEngine validates cfg against the supplied components.
func NewEngine(cfg EngineConfig, c Components, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c.Segmenter == nil || c.Acoustic == nil || c.Audio == nil {
		return nil, &ConfigurationError{Reason: "segmenter, acoustic model and audio transforms are required"}
	}
	if cfg.HasVocoder() != (c.Vocoder != nil) {
		return nil, &ConfigurationError{Reason: "vocoder parameters must be set exactly when a vocoder is attached"}
	}
	resolver, err := NewResolver(cfg, c.Speakers, c.Languages)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		log:       log.With(slog.String("component", "synth")),
		segmenter: c.Segmenter,
		acoustic:  c.Acoustic,
		tf:        c.Audio,
		resolver:  resolver,
		assembler: Assembler{Padding: cfg.PaddingSamples},
		tracer:    otel.Tracer(instrumentationName),
	}
	e.metrics = newEngineMetrics(defaultMeter(), e.log)

	if cfg.Vocoder != nil {
		reconciler, err := NewReconciler(cfg.Acoustic.SampleRate, cfg.Vocoder.SampleRate, c.Audio)
		if err != nil {
			return nil, err
		}
		e.vocoder = &vocoderStage{
			acoustic:   cfg.Acoustic.Stats,
			vocoder:    cfg.Vocoder.Stats,
			tf:         c.Audio,
			reconciler: reconciler,
			model:      c.Vocoder,
			device:     cfg.Device,
		}
	}
	return e, nil
}

func (e *Engine) Config() EngineConfig { return e.cfg }

// SampleRate is the rate of every waveform the engine returns.
func (e *Engine) SampleRate() int { return e.cfg.OutputSampleRate() }

// Synthesize turns text into a waveform. Identity is resolved before the
// text is segmented, so selector errors never reach a model.
func (e *Engine) Synthesize(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "synth.Synthesize")
	defer func() { e.end(ctx, span, "synthesize", res, err) }()

	speaker, err := e.resolver.ResolveSpeaker(ctx, req.Speaker, req.ReferenceClips)
	if err != nil {
		return Result{}, err
	}
	language, err := e.resolver.ResolveLanguage(req.Language)
	if err != nil {
		return Result{}, err
	}

	sentences := e.segmenter.Segment(req.Text)
	e.log.Debug("segmented text", slog.Int("segments", len(sentences)), slog.Any("sentences", sentences))
	span.SetAttributes(attribute.Int("segments", len(sentences)))

	segments, err := e.synthesizeSegments(ctx, sentences, speaker, language, req.StyleRef)
	if err != nil {
		return Result{}, err
	}
	return e.result(segments, start), nil
}

// Convert runs voice conversion. The first reference clip, when given,
// supplies the acoustic model's feature input.
func (e *Engine) Convert(ctx context.Context, req ConversionRequest) (res Result, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "synth.Convert")
	defer func() { e.end(ctx, span, "convert", res, err) }()

	ids, err := e.resolver.ResolveConversion(ctx, req.SourceSpeaker, req.TargetSpeaker, req.ReferenceClips)
	if err != nil {
		return Result{}, err
	}
	in := ConversionInput{
		Source:        ids.Source,
		Target:        ids.Target,
		StyleRef:      req.StyleRef,
		UseGriffinLim: !e.cfg.HasVocoder(),
		Device:        e.cfg.Device,
	}
	if len(req.ReferenceClips) > 0 {
		f, err := e.tf.ExtractFeatures(ctx, req.ReferenceClips[0])
		if err != nil {
			return Result{}, &InferenceError{Stage: StageFeatures, Segment: -1, Err: err}
		}
		in.Features = &f
	}

	wav, err := e.convertOnce(ctx, in)
	if err != nil {
		return Result{}, err
	}
	return e.result([][]float32{wav}, start), nil
}

func (e *Engine) result(segments [][]float32, start time.Time) Result {
	res := Result{
		Samples:    e.assembler.Assemble(segments),
		SampleRate: e.SampleRate(),
		Segments:   len(segments),
	}
	res.ProcessingTime = time.Since(start)
	if d := res.Duration(); d > 0 {
		res.RealTimeFactor = res.ProcessingTime.Seconds() / d.Seconds()
	}
	return res
}

func (e *Engine) end(ctx context.Context, span trace.Span, op string, res Result, err error) {
	defer span.End()
	e.metrics.record(ctx, op, res, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		level := slog.LevelError
		if IsClientError(err) {
			level = slog.LevelWarn
		}
		e.log.Log(ctx, level, "request failed", slog.String("operation", op), slog.String("kind", Kind(err)), slog.String("error", err.Error()))
		return
	}
	span.SetAttributes(attribute.Int("samples", len(res.Samples)))
	e.log.Info("request completed",
		slog.String("operation", op),
		slog.Int("segments", res.Segments),
		slog.Duration("processing_time", res.ProcessingTime),
		slog.Float64("real_time_factor", res.RealTimeFactor),
	)
}

// Save writes a result as 16-bit PCM WAV.
func Save(res Result, path string) error {
	if res.SampleRate <= 0 {
		return errors.New("result has no sample rate")
	}
	if err := audio.SaveWAV(path, res.Samples, res.SampleRate); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}
