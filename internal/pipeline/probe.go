package pipeline

import (
	"fmt"
	"io"
	"os"

	"github.com/dhowden/tag"

	"github.com/sciber-ai/audiosync/internal/layout"
	"github.com/sciber-ai/audiosync/internal/model"
)

// ProbeResult describes what could be read from an audio file's metadata.
type ProbeResult struct {
	ContentType string
	FileType    string // container reported by the tag reader, empty if unknown
	Format      string // tag format, e.g. ID3v2.3
	Title       string
	Artist      string
}

// Probe inspects the file at path. Files without readable tags still get a
// content type from their extension; only an unreadable file is an error.
func Probe(path string) (*ProbeResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	result := &ProbeResult{ContentType: layout.ContentTypeFor(path)}

	format, fileType, err := tag.Identify(f)
	if err == nil {
		result.Format = string(format)
		result.FileType = string(fileType)
		if fileType == tag.MP3 {
			result.ContentType = model.ContentTypeMPEG
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind %s: %w", path, err)
	}
	// WAV and untagged files fail here; the extension-derived type stands.
	if md, err := tag.ReadFrom(f); err == nil {
		result.Title = md.Title()
		result.Artist = md.Artist()
	}

	return result, nil
}
