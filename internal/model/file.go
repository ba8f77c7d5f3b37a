package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DefaultOwnerID is the seeded admin user that owns files discovered on disk.
const DefaultOwnerID int64 = 1

// FileRecord is one row per (filename, model tag) pair.
type FileRecord struct {
	ID           int64      `json:"id" yaml:"id"`
	OwnerID      int64      `json:"user_id" yaml:"user_id"`
	Filename     string     `json:"filename" yaml:"filename"`
	OriginalName string     `json:"original_name" yaml:"original_name"`
	ContentType  string     `json:"content_type" yaml:"content_type"`
	Size         int64      `json:"size" yaml:"size"`
	UploadTime   time.Time  `json:"upload_time" yaml:"upload_time"`
	ModelTag     ModelTag   `json:"whisper_model" yaml:"whisper_model"`
	Status       FileStatus `json:"status" yaml:"status"`
	StoragePath  string     `json:"storage_path" yaml:"storage_path"`
	DurationSecs float64    `json:"audio_duration_seconds" yaml:"audio_duration_seconds"`
}

// FileRecordParams is the fixed field set accepted by NewFileRecord.
type FileRecordParams struct {
	Filename    string
	ModelTag    ModelTag
	StoragePath string
	Size        int64
	DisplayName string
	ContentType string
	OwnerID     int64
	UploadTime  time.Time
}

// NewFileRecord builds a validated FileRecord in status UPLOADED with zero
// duration. DisplayName defaults to Filename and UploadTime to now.
func NewFileRecord(p FileRecordParams) (*FileRecord, error) {
	if p.DisplayName == "" {
		p.DisplayName = p.Filename
	}
	if p.UploadTime.IsZero() {
		p.UploadTime = time.Now().UTC()
	}
	if p.ContentType == "" {
		p.ContentType = ContentTypeUnknown
	}

	rec := &FileRecord{
		OwnerID:      p.OwnerID,
		Filename:     p.Filename,
		OriginalName: p.DisplayName,
		ContentType:  p.ContentType,
		Size:         p.Size,
		UploadTime:   p.UploadTime,
		ModelTag:     p.ModelTag,
		Status:       StatusUploaded,
		StoragePath:  p.StoragePath,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Validate checks that the record's fields are usable by the store.
func (r *FileRecord) Validate() error {
	if r.Filename == "" {
		return fmt.Errorf("filename is required")
	}
	if strings.ContainsAny(r.Filename, `/\`) || r.Filename == "." || r.Filename == ".." {
		return fmt.Errorf("filename %q must be a bare file name", r.Filename)
	}
	if !r.ModelTag.IsValid() {
		return fmt.Errorf("unknown model tag %q", r.ModelTag)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if r.Size < 0 {
		return fmt.Errorf("size must be non-negative (got %d)", r.Size)
	}
	if r.StoragePath == "" {
		return fmt.Errorf("storage path is required")
	}
	if filepath.IsAbs(r.StoragePath) {
		return fmt.Errorf("storage path %q must be relative to the storage root", r.StoragePath)
	}
	if r.OwnerID <= 0 {
		return fmt.Errorf("owner id must be positive (got %d)", r.OwnerID)
	}
	if r.OriginalName == "" {
		return fmt.Errorf("original name is required")
	}
	if r.UploadTime.IsZero() {
		return fmt.Errorf("upload time is required")
	}
	return nil
}

// Key returns the record's uniqueness key.
func (r *FileRecord) Key() FileKey {
	return FileKey{Filename: r.Filename, ModelTag: r.ModelTag}
}

// FileKey is the (filename, model tag) identity of a file.
type FileKey struct {
	Filename string
	ModelTag ModelTag
}

func (k FileKey) String() string {
	return string(k.ModelTag) + "/" + k.Filename
}

// ExpectedPath returns where the file for k lives under root.
func (k FileKey) ExpectedPath(root string) string {
	return filepath.Join(root, string(k.ModelTag), k.Filename)
}

// Content types recorded for audio files.
const (
	ContentTypeMPEG    = "audio/mpeg"
	ContentTypeWAV     = "audio/wav"
	ContentTypeUnknown = "audio/unknown"
)
