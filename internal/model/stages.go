package model

import "time"

// Transcript is the transcription result for one FileRecord.
type Transcript struct {
	ID                int64       `json:"id" yaml:"id"`
	FileID            int64       `json:"audio_file_id" yaml:"audio_file_id"`
	Status            StageStatus `json:"status" yaml:"status"`
	Text              string      `json:"text,omitempty" yaml:"text,omitempty"`
	ProcessingSeconds float64     `json:"processing_seconds" yaml:"processing_seconds"`
	TextChars         int         `json:"text_chars" yaml:"text_chars"`
	RealTimeFactor    float64     `json:"real_time_factor" yaml:"real_time_factor"`
	CreatedAt         time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" yaml:"updated_at"`
}

// Translation is the translation of a Transcript.
type Translation struct {
	ID                int64       `json:"id" yaml:"id"`
	TranscriptID      int64       `json:"transcript_id" yaml:"transcript_id"`
	SourceLanguage    string      `json:"source_language" yaml:"source_language"`
	TextEN            string      `json:"text_en,omitempty" yaml:"text_en,omitempty"`
	TextRU            string      `json:"text_ru,omitempty" yaml:"text_ru,omitempty"`
	Status            StageStatus `json:"status" yaml:"status"`
	ProcessingSeconds float64     `json:"processing_seconds" yaml:"processing_seconds"`
	TextChars         int         `json:"text_chars" yaml:"text_chars"`
	CreatedAt         time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" yaml:"updated_at"`
}

// Summary is the summary of a Translation.
type Summary struct {
	ID             int64       `json:"id" yaml:"id"`
	TranslationID  int64       `json:"translation_id" yaml:"translation_id"`
	BaseLanguage   string      `json:"base_language" yaml:"base_language"`
	TargetLanguage string      `json:"target_language" yaml:"target_language"`
	Status         StageStatus `json:"status" yaml:"status"`
	Text           string      `json:"text,omitempty" yaml:"text,omitempty"`
	CreatedAt      time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" yaml:"updated_at"`
}
