package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/sqldb"
)

// SaveTranscript inserts or updates the transcript of t.FileID and sets
// t.ID. CreatedAt is kept from the first save.
func (db *DB) SaveTranscript(ctx context.Context, t *model.Transcript) error {
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid transcript status %q", t.Status)
	}
	now := db.now()

	query := db.rebind(`
	INSERT INTO transcripts (
		audio_file_id, status, text, processing_seconds, text_chars,
		real_time_factor, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (audio_file_id) DO UPDATE SET
		status = excluded.status,
		text = excluded.text,
		processing_seconds = excluded.processing_seconds,
		text_chars = excluded.text_chars,
		real_time_factor = excluded.real_time_factor,
		updated_at = excluded.updated_at
	RETURNING id
	`)

	err := db.conn.DB.QueryRowContext(ctx, query,
		t.FileID,
		string(t.Status),
		t.Text,
		t.ProcessingSeconds,
		t.TextChars,
		t.RealTimeFactor,
		db.timeArg(now),
		db.timeArg(now),
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to save transcript for file %d: %w", t.FileID, err)
	}
	t.UpdatedAt = now
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	return nil
}

// GetTranscript returns the transcript of file fileID.
func (db *DB) GetTranscript(ctx context.Context, fileID int64) (*model.Transcript, error) {
	query := db.rebind(`
	SELECT id, audio_file_id, status, text, processing_seconds, text_chars,
		real_time_factor, created_at, updated_at
	FROM transcripts WHERE audio_file_id = ?
	`)

	var (
		t                model.Transcript
		status           string
		text             sql.NullString
		secs, rtf        sql.NullFloat64
		chars            sql.NullInt64
		created, updated sqldb.Time
	)
	err := db.conn.DB.QueryRowContext(ctx, query, fileID).Scan(
		&t.ID, &t.FileID, &status, &text, &secs, &chars, &rtf, &created, &updated,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transcript for file %d: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript for file %d: %w", fileID, err)
	}

	t.Status = model.StageStatus(status)
	t.Text = text.String
	t.ProcessingSeconds = secs.Float64
	t.TextChars = int(chars.Int64)
	t.RealTimeFactor = rtf.Float64
	t.CreatedAt = created.Time
	t.UpdatedAt = updated.Time
	return &t, nil
}

// SaveTranslation inserts or updates the translation of tr.TranscriptID and
// sets tr.ID.
func (db *DB) SaveTranslation(ctx context.Context, tr *model.Translation) error {
	if !tr.Status.IsValid() {
		return fmt.Errorf("invalid translation status %q", tr.Status)
	}
	if tr.SourceLanguage == "" {
		return fmt.Errorf("translation source language is required")
	}
	now := db.now()

	query := db.rebind(`
	INSERT INTO translations (
		transcript_id, source_language, text_en, text_ru, status,
		processing_seconds, text_chars, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (transcript_id) DO UPDATE SET
		source_language = excluded.source_language,
		text_en = excluded.text_en,
		text_ru = excluded.text_ru,
		status = excluded.status,
		processing_seconds = excluded.processing_seconds,
		text_chars = excluded.text_chars,
		updated_at = excluded.updated_at
	RETURNING id
	`)

	err := db.conn.DB.QueryRowContext(ctx, query,
		tr.TranscriptID,
		tr.SourceLanguage,
		tr.TextEN,
		tr.TextRU,
		string(tr.Status),
		tr.ProcessingSeconds,
		tr.TextChars,
		db.timeArg(now),
		db.timeArg(now),
	).Scan(&tr.ID)
	if err != nil {
		return fmt.Errorf("failed to save translation for transcript %d: %w", tr.TranscriptID, err)
	}
	tr.UpdatedAt = now
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = now
	}
	return nil
}

// GetTranslation returns the translation of transcript transcriptID.
func (db *DB) GetTranslation(ctx context.Context, transcriptID int64) (*model.Translation, error) {
	query := db.rebind(`
	SELECT id, transcript_id, source_language, text_en, text_ru, status,
		processing_seconds, text_chars, created_at, updated_at
	FROM translations WHERE transcript_id = ?
	`)

	var (
		tr               model.Translation
		status           string
		textEN, textRU   sql.NullString
		secs             sql.NullFloat64
		chars            sql.NullInt64
		created, updated sqldb.Time
	)
	err := db.conn.DB.QueryRowContext(ctx, query, transcriptID).Scan(
		&tr.ID, &tr.TranscriptID, &tr.SourceLanguage, &textEN, &textRU, &status,
		&secs, &chars, &created, &updated,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("translation for transcript %d: %w", transcriptID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get translation for transcript %d: %w", transcriptID, err)
	}

	tr.Status = model.StageStatus(status)
	tr.TextEN = textEN.String
	tr.TextRU = textRU.String
	tr.ProcessingSeconds = secs.Float64
	tr.TextChars = int(chars.Int64)
	tr.CreatedAt = created.Time
	tr.UpdatedAt = updated.Time
	return &tr, nil
}

// SaveSummary inserts or updates the summary of s.TranslationID and sets s.ID.
func (db *DB) SaveSummary(ctx context.Context, s *model.Summary) error {
	if !s.Status.IsValid() {
		return fmt.Errorf("invalid summary status %q", s.Status)
	}
	if s.BaseLanguage == "" || s.TargetLanguage == "" {
		return fmt.Errorf("summary languages are required")
	}
	now := db.now()

	query := db.rebind(`
	INSERT INTO summaries (
		translation_id, base_language, target_language, status, text,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (translation_id) DO UPDATE SET
		base_language = excluded.base_language,
		target_language = excluded.target_language,
		status = excluded.status,
		text = excluded.text,
		updated_at = excluded.updated_at
	RETURNING id
	`)

	err := db.conn.DB.QueryRowContext(ctx, query,
		s.TranslationID,
		s.BaseLanguage,
		s.TargetLanguage,
		string(s.Status),
		s.Text,
		db.timeArg(now),
		db.timeArg(now),
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to save summary for translation %d: %w", s.TranslationID, err)
	}
	s.UpdatedAt = now
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	return nil
}

// GetSummary returns the summary of translation translationID.
func (db *DB) GetSummary(ctx context.Context, translationID int64) (*model.Summary, error) {
	query := db.rebind(`
	SELECT id, translation_id, base_language, target_language, status, text,
		created_at, updated_at
	FROM summaries WHERE translation_id = ?
	`)

	var (
		s                model.Summary
		status           string
		text             sql.NullString
		created, updated sqldb.Time
	)
	err := db.conn.DB.QueryRowContext(ctx, query, translationID).Scan(
		&s.ID, &s.TranslationID, &s.BaseLanguage, &s.TargetLanguage, &status, &text,
		&created, &updated,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("summary for translation %d: %w", translationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary for translation %d: %w", translationID, err)
	}

	s.Status = model.StageStatus(status)
	s.Text = text.String
	s.CreatedAt = created.Time
	s.UpdatedAt = updated.Time
	return &s, nil
}

// FileDetail is a record together with whatever part of its downstream
// chain exists.
type FileDetail struct {
	File        *model.FileRecord  `json:"file" yaml:"file"`
	Transcript  *model.Transcript  `json:"transcript,omitempty" yaml:"transcript,omitempty"`
	Translation *model.Translation `json:"translation,omitempty" yaml:"translation,omitempty"`
	Summary     *model.Summary     `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// GetFileDetail loads file id and walks its transcript chain.
func (db *DB) GetFileDetail(ctx context.Context, id int64) (*FileDetail, error) {
	rec, err := db.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &FileDetail{File: rec}

	transcript, err := db.GetTranscript(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return detail, nil
		}
		return nil, err
	}
	detail.Transcript = transcript

	translation, err := db.GetTranslation(ctx, transcript.ID)
	if err != nil {
		if isNotFound(err) {
			return detail, nil
		}
		return nil, err
	}
	detail.Translation = translation

	summary, err := db.GetSummary(ctx, translation.ID)
	if err != nil {
		if isNotFound(err) {
			return detail, nil
		}
		return nil, err
	}
	detail.Summary = summary

	return detail, nil
}
