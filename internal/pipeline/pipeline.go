// Package pipeline defines the processing stages an audio file goes through
// after it is registered: transcription, translation and summarization.
//
// Each stage is an interface so the worker can run with stubs, with a remote
// model, or with test doubles. A stage that cannot produce a result returns an
// error matching ErrStageFailed.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sciber-ai/audiosync/internal/model"
)

// ErrStageFailed marks an error as a stage failure. Stage failures are
// recorded on the stage's record and are not retried.
var ErrStageFailed = errors.New("stage failed")

// Stage names, used in logs and metrics.
const (
	StageTranscribe = "transcribe"
	StageTranslate  = "translate"
	StageSummarize  = "summarize"
)

// DefaultSourceLanguage is assumed when transcription does not detect one.
const DefaultSourceLanguage = "ru"

// TargetLanguage is the language translations and summaries are written in.
const TargetLanguage = "en"

// Segment is a timed piece of a transcription.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the output of a Transcriber.
type Transcription struct {
	Text     string
	Segments []Segment
	Duration float64 // seconds of audio
	Language string  // detected language, empty when unknown
}

// Translation is the output of a Translator.
type Translation struct {
	TranslatedText string
	DetectedSource string
}

// Summary is the output of a Summarizer.
type Summary struct {
	Summary    string
	Highlights []string
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string, tag model.ModelTag) (*Transcription, error)
}

// Translator translates text from src (empty means detect) into tgt.
type Translator interface {
	Translate(ctx context.Context, text, src, tgt string) (*Translation, error)
}

// Summarizer condenses text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (*Summary, error)
}

// Stages bundles the three stages. Nil members are replaced by stubs.
type Stages struct {
	Transcriber Transcriber
	Translator  Translator
	Summarizer  Summarizer
}

// WithDefaults returns s with nil stages replaced by stubs.
func (s Stages) WithDefaults() Stages {
	if s.Transcriber == nil {
		s.Transcriber = StubTranscriber{}
	}
	if s.Translator == nil {
		s.Translator = StubTranslator{}
	}
	if s.Summarizer == nil {
		s.Summarizer = StubSummarizer{}
	}
	return s
}

// Failed wraps err as a failure of stage.
func Failed(stage string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStageFailed) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", stage, ErrStageFailed, err)
}
