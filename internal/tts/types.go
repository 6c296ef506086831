package tts

import (
	"context"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/eventstore"
	"github.com/loqalabs/loqa-tts/internal/synth"
)

// Engine is the part of synth.Engine the service drives.
type Engine interface {
	Synthesize(ctx context.Context, req synth.Request) (synth.Result, error)
	Convert(ctx context.Context, req synth.ConversionRequest) (synth.Result, error)
}

// Timeline records the lifecycle of each request.
type Timeline interface {
	BeginRequest(ctx context.Context, req eventstore.Request, payload any) error
	CompleteRequest(ctx context.Context, requestID, source string, c eventstore.Completion) error
	FailRequest(ctx context.Context, requestID, source string, f eventstore.Failure) error
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Chunks splits a result into 16-bit mono PCM chunks of roughly chunkMS
// each. There is always at least one chunk and the last one is final.
func Chunks(res synth.Result, chunkMS int) []SynthChunk {
	pcm := audio.PCM16Bytes(res.Samples)
	perChunk := res.SampleRate * chunkMS / 1000 * 2
	if perChunk < 2 {
		perChunk = 2
	}

	var chunks []SynthChunk
	for off := 0; off < len(pcm) || len(chunks) == 0; off += perChunk {
		end := min(off+perChunk, len(pcm))
		chunks = append(chunks, SynthChunk{
			Sequence:   len(chunks),
			SampleRate: res.SampleRate,
			Channels:   1,
			PCM:        pcm[off:end],
			Final:      end == len(pcm),
		})
	}
	return chunks
}
