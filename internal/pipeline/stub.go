package pipeline

import (
	"context"

	"github.com/sciber-ai/audiosync/internal/model"
)

// StubTranscriber returns an empty transcription.
type StubTranscriber struct{}

func (StubTranscriber) Transcribe(ctx context.Context, path string, tag model.ModelTag) (*Transcription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Transcription{Segments: []Segment{}}, nil
}

// StubTranslator returns an empty translation and echoes the source language.
type StubTranslator struct{}

func (StubTranslator) Translate(ctx context.Context, text, src, tgt string) (*Translation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Translation{DetectedSource: src}, nil
}

// StubSummarizer returns an empty summary.
type StubSummarizer struct{}

func (StubSummarizer) Summarize(ctx context.Context, text string) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Summary{Highlights: []string{}}, nil
}
