// Package tts exposes the synthesis engine on the message bus.
package tts

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/eventstore"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/loqalabs/loqa-tts/internal/synth"
	"github.com/nats-io/nats.go"
)

const (
	defaultTimeout = 45 * time.Second
	source         = "bus"
)

type Service struct {
	cfg      config.TTSConfig
	bus      *bus.Client
	engine   Engine
	timeline Timeline
	subs     []*nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, engine Engine, timeline Timeline, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		engine:   engine,
		timeline: timeline,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	sub, err = s.bus.Conn().Subscribe(protocol.SubjectTTSConvert, s.handleConvert)
	if err != nil {
		s.Close()
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) == 2 }

func (s *Service) timeout() time.Duration {
	if s.cfg.TimeoutMS <= 0 {
		return defaultTimeout
	}
	return time.Duration(s.cfg.TimeoutMS) * time.Millisecond
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.Speaker == "" {
		req.Speaker = s.cfg.DefaultSpeaker
	}
	if req.Language == "" {
		req.Language = s.cfg.DefaultLanguage
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.timeout())
		defer cancel()

		record := eventstore.Request{
			ID:        req.SessionID,
			Operation: "synthesize",
			Source:    source,
			Speaker:   req.Speaker,
			Language:  req.Language,
		}
		s.begin(ctx, record, map[string]any{"text": req.Text, "reference_clips": req.ReferenceClips})

		res, err := s.engine.Synthesize(ctx, synth.Request{
			Text:           req.Text,
			Speaker:        req.Speaker,
			Language:       req.Language,
			ReferenceClips: req.ReferenceClips,
			StyleRef:       req.StyleWav,
		})
		s.finish(ctx, msg, req.SessionID, req.Target, res, err)
	}()
}

func (s *Service) handleConvert(msg *nats.Msg) {
	var req protocol.ConvertRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode convert request", slogError(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.timeout())
		defer cancel()

		record := eventstore.Request{
			ID:        req.SessionID,
			Operation: "convert",
			Source:    source,
			Speaker:   req.TargetSpeaker,
		}
		s.begin(ctx, record, map[string]any{"source_speaker": req.SourceSpeaker, "reference_clips": req.ReferenceClips})

		res, err := s.engine.Convert(ctx, synth.ConversionRequest{
			SourceSpeaker:  req.SourceSpeaker,
			TargetSpeaker:  req.TargetSpeaker,
			ReferenceClips: req.ReferenceClips,
			StyleRef:       req.StyleWav,
		})
		s.finish(ctx, msg, req.SessionID, req.Target, res, err)
	}()
}

func (s *Service) begin(ctx context.Context, record eventstore.Request, payload any) {
	if s.timeline == nil {
		return
	}
	if err := s.timeline.BeginRequest(ctx, record, payload); err != nil {
		s.logger.Warn("failed to record request", slog.String("session_id", record.ID), slogError(err))
	}
}

func (s *Service) finish(ctx context.Context, msg *nats.Msg, sessionID, target string, res synth.Result, err error) {
	status := protocol.TTSStatus{
		SessionID: sessionID,
		Target:    target,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		status.ErrorKind = synth.Kind(err)
		status.Error = err.Error()
		s.logger.Warn("tts request failed",
			slog.String("session_id", sessionID),
			slog.String("kind", status.ErrorKind),
			slogError(err))
		if s.timeline != nil {
			if terr := s.timeline.FailRequest(context.WithoutCancel(ctx), sessionID, source, eventstore.Failure{Kind: status.ErrorKind, Message: err.Error()}); terr != nil {
				s.logger.Warn("failed to record failure", slog.String("session_id", sessionID), slogError(terr))
			}
		}
		s.publishStatus(msg, status)
		return
	}

	for _, chunk := range Chunks(res, s.cfg.ChunkDurationMS) {
		s.publishChunk(sessionID, target, chunk)
	}

	status.Completed = true
	status.Segments = res.Segments
	status.DurationMS = res.Duration().Milliseconds()
	status.RealTimeFactor = res.RealTimeFactor
	if s.timeline != nil {
		completion := eventstore.Completion{
			Samples:        len(res.Samples),
			SampleRate:     res.SampleRate,
			Segments:       res.Segments,
			ProcessingMS:   res.ProcessingTime.Milliseconds(),
			RealTimeFactor: res.RealTimeFactor,
		}
		if terr := s.timeline.CompleteRequest(ctx, sessionID, source, completion); terr != nil {
			s.logger.Warn("failed to record completion", slog.String("session_id", sessionID), slogError(terr))
		}
	}
	s.publishStatus(msg, status)
}

func (s *Service) publishChunk(sessionID, target string, chunk SynthChunk) {
	packet := protocol.AudioChunk{
		SessionID:  sessionID,
		Target:     target,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Sequence:   chunk.Sequence,
		PCM:        chunk.PCM,
		Final:      chunk.Final,
	}
	if err := s.bus.PublishJSON(protocol.SubjectTTSAudio, packet); err != nil {
		s.logger.Warn("failed to publish tts chunk", slogError(err))
	}
}

func (s *Service) publishStatus(msg *nats.Msg, status protocol.TTSStatus) {
	if err := s.bus.PublishJSON(protocol.SubjectTTSDone, status); err != nil {
		s.logger.Warn("failed to publish tts status", slogError(err))
	}
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to reply to tts request", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
