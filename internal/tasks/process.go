package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/pipeline"
	"github.com/sciber-ai/audiosync/internal/queue"
	"github.com/sciber-ai/audiosync/internal/store"
)

// ProcessFile runs the processing chain for record id.
//
// The admission gate is checked first; a refusal is returned as
// *ErrRetryLater. A record that no longer exists, or that another job has
// already moved past uploaded, is a no-op. The exception is a redelivered
// job finding the record in processing: its earlier run died mid-chain, so
// the stages run again and the record is finished. Stage failures are
// recorded on the stage records and the file ends failed; they are not
// returned as errors, so the job is not retried.
func (t *Tasks) ProcessFile(ctx context.Context, id int64) error {
	if t.gate != nil {
		if err := t.gate.Admit(ctx); err != nil {
			return err
		}
	}

	rec, err := t.store.GetFile(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		t.logger.Printf("File %d no longer exists, skipping", id)
		return nil
	}
	if err != nil {
		return err
	}

	if rec.Status == model.StatusProcessing && queue.Redelivered(ctx) {
		t.logger.Printf("Resuming %s (file %d) left in processing by an earlier delivery", rec.Key(), id)
	} else {
		err = t.store.AdvanceStatus(ctx, id, model.StatusProcessing)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil
		case errors.Is(err, model.ErrInvalidTransition):
			t.logger.Printf("File %d is no longer uploaded, skipping", id)
			return nil
		case err != nil:
			return err
		}
		t.logger.Printf("Processing %s (file %d)", rec.Key(), id)
	}

	t.refineContentType(ctx, rec)
	stageErr := t.runStages(ctx, rec)

	final := model.StatusDone
	if stageErr != nil {
		final = model.StatusFailed
		t.logger.Printf("Warning: processing file %d failed: %v", id, stageErr)
	}

	// Use a fresh context so a cancelled job still leaves a terminal status.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := t.store.AdvanceStatus(finishCtx, id, final); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to finish file %d: %w", id, err)
	}

	if stageErr != nil && !errors.Is(stageErr, pipeline.ErrStageFailed) {
		return stageErr
	}
	return nil
}

// refineContentType replaces the extension-derived content type with the
// one the file's own header reports. Failures are logged; the stored type
// stays usable.
func (t *Tasks) refineContentType(ctx context.Context, rec *model.FileRecord) {
	probe, err := pipeline.Probe(t.abs(rec.StoragePath))
	if err != nil || probe.ContentType == rec.ContentType {
		return
	}
	if err := t.store.SetContentType(ctx, rec.ID, probe.ContentType); err != nil {
		t.logger.Printf("Warning: failed to update content type of file %d: %v", rec.ID, err)
		return
	}
	rec.ContentType = probe.ContentType
}

// runStages runs transcription, translation and summarization in order.
// Each stage's record is saved as processing before it runs and as done or
// failed after. A failed stage stops the chain, so its dependents are never
// created.
func (t *Tasks) runStages(ctx context.Context, rec *model.FileRecord) error {
	transcript, lang, err := t.transcribe(ctx, rec)
	if err != nil {
		return err
	}

	translation, err := t.translate(ctx, transcript, lang)
	if err != nil {
		return err
	}

	return t.summarize(ctx, translation)
}

func (t *Tasks) transcribe(ctx context.Context, rec *model.FileRecord) (*model.Transcript, string, error) {
	tr := &model.Transcript{FileID: rec.ID, Status: model.StageProcessing}
	if err := t.store.SaveTranscript(ctx, tr); err != nil {
		return nil, "", err
	}

	start := t.now()
	out, err := t.stages.Transcriber.Transcribe(ctx, t.abs(rec.StoragePath), rec.ModelTag)
	tr.ProcessingSeconds = t.now().Sub(start).Seconds()
	if err != nil {
		return nil, "", t.failStage(pipeline.StageTranscribe, err, func() error {
			tr.Status = model.StageFailed
			return t.store.SaveTranscript(ctx, tr)
		})
	}

	tr.Status = model.StageDone
	tr.Text = out.Text
	tr.TextChars = utf8.RuneCountInString(out.Text)
	if out.Duration > 0 {
		tr.RealTimeFactor = tr.ProcessingSeconds / out.Duration
		if err := t.store.SetDuration(ctx, rec.ID, out.Duration); err != nil {
			return nil, "", err
		}
	}
	if err := t.store.SaveTranscript(ctx, tr); err != nil {
		return nil, "", err
	}

	lang := out.Language
	if lang == "" {
		lang = pipeline.DefaultSourceLanguage
	}
	return tr, lang, nil
}

func (t *Tasks) translate(ctx context.Context, transcript *model.Transcript, lang string) (*model.Translation, error) {
	tl := &model.Translation{
		TranscriptID:   transcript.ID,
		SourceLanguage: lang,
		Status:         model.StageProcessing,
	}
	if err := t.store.SaveTranslation(ctx, tl); err != nil {
		return nil, err
	}

	start := t.now()
	out, err := t.stages.Translator.Translate(ctx, transcript.Text, lang, pipeline.TargetLanguage)
	tl.ProcessingSeconds = t.now().Sub(start).Seconds()
	if err != nil {
		return nil, t.failStage(pipeline.StageTranslate, err, func() error {
			tl.Status = model.StageFailed
			return t.store.SaveTranslation(ctx, tl)
		})
	}

	if out.DetectedSource != "" {
		tl.SourceLanguage = out.DetectedSource
	}
	tl.Status = model.StageDone
	tl.TextEN = out.TranslatedText
	tl.TextRU = transcript.Text
	tl.TextChars = utf8.RuneCountInString(out.TranslatedText)
	if err := t.store.SaveTranslation(ctx, tl); err != nil {
		return nil, err
	}
	return tl, nil
}

func (t *Tasks) summarize(ctx context.Context, translation *model.Translation) error {
	sum := &model.Summary{
		TranslationID:  translation.ID,
		BaseLanguage:   translation.SourceLanguage,
		TargetLanguage: pipeline.TargetLanguage,
		Status:         model.StageProcessing,
	}
	if err := t.store.SaveSummary(ctx, sum); err != nil {
		return err
	}

	text := translation.TextEN
	if strings.TrimSpace(text) == "" {
		text = translation.TextRU
	}
	out, err := t.stages.Summarizer.Summarize(ctx, text)
	if err != nil {
		return t.failStage(pipeline.StageSummarize, err, func() error {
			sum.Status = model.StageFailed
			return t.store.SaveSummary(ctx, sum)
		})
	}

	sum.Status = model.StageDone
	sum.Text = formatSummary(out)
	return t.store.SaveSummary(ctx, sum)
}

// failStage records a stage failure with save and returns the stage error.
// A failure to save takes precedence since the record would otherwise stay
// in processing.
func (t *Tasks) failStage(stage string, cause error, save func() error) error {
	if err := save(); err != nil {
		return fmt.Errorf("failed to record %s failure (%v): %w", stage, cause, err)
	}
	return pipeline.Failed(stage, cause)
}

// formatSummary renders a summary and its highlights as stored text.
func formatSummary(s *pipeline.Summary) string {
	if len(s.Highlights) == 0 {
		return s.Summary
	}
	var b strings.Builder
	b.WriteString(s.Summary)
	if s.Summary != "" {
		b.WriteString("\n\n")
	}
	for i, h := range s.Highlights {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(h)
	}
	return b.String()
}
