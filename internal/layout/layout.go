// Package layout implements the storage directory contract: a storage root
// holding one subdirectory per model tag, with audio files directly inside.
// Anything else under the root is ignored, never reported as an error.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sciber-ai/audiosync/internal/model"
)

// AllowedExtensions lists the audio extensions the reconciler tracks.
var AllowedExtensions = []string{".mp3", ".wav"}

// IsAudioFile reports whether name has an allowed audio extension.
// The comparison ignores case.
func IsAudioFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// ContentTypeFor guesses a MIME type from the file extension.
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return model.ContentTypeMPEG
	case ".wav":
		return model.ContentTypeWAV
	default:
		return model.ContentTypeUnknown
	}
}

// Entry is an audio file path resolved against the storage root.
type Entry struct {
	Key model.FileKey
	// AbsPath is the absolute path of the file on disk.
	AbsPath string
	// RelPath is AbsPath relative to the storage root, as stored in the
	// record's storage_path column.
	RelPath string
}

// Resolve maps path to an Entry if it names an audio file directly inside a
// model-tag directory of root. The second return value is false for paths
// that fall outside the layout.
func Resolve(root, path string) (Entry, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Entry{}, false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Entry{}, false
	}

	if !IsAudioFile(absPath) {
		return Entry{}, false
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return Entry{}, false
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return Entry{}, false
	}

	tag, ok := model.ModelTagFromDir(parts[0])
	if !ok {
		return Entry{}, false
	}

	return Entry{
		Key:     model.FileKey{Filename: parts[1], ModelTag: tag},
		AbsPath: absPath,
		RelPath: rel,
	}, true
}

// File is an audio file found by Scan.
type File struct {
	Entry
	Size int64
}

// Scan enumerates every audio file in the model-tag directories of root.
// Directories that do not name a model tag are skipped. A missing root
// yields an empty result.
func Scan(root string) ([]File, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}

	dirs, err := os.ReadDir(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return []File{}, nil
		}
		return nil, fmt.Errorf("failed to read storage root %s: %w", absRoot, err)
	}

	var files []File
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		tag, ok := model.ModelTagFromDir(dir.Name())
		if !ok {
			continue
		}

		tagDir := filepath.Join(absRoot, dir.Name())
		entries, err := os.ReadDir(tagDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read model directory %s: %w", tagDir, err)
		}

		for _, entry := range entries {
			if !entry.Type().IsRegular() || !IsAudioFile(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				// Removed between ReadDir and Info.
				continue
			}
			files = append(files, File{
				Entry: Entry{
					Key:     model.FileKey{Filename: entry.Name(), ModelTag: tag},
					AbsPath: filepath.Join(tagDir, entry.Name()),
					RelPath: filepath.Join(dir.Name(), entry.Name()),
				},
				Size: info.Size(),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Key.ModelTag != files[j].Key.ModelTag {
			return files[i].Key.ModelTag < files[j].Key.ModelTag
		}
		return files[i].Key.Filename < files[j].Key.Filename
	})

	return files, nil
}

// EnsureDirs creates root and one subdirectory per model tag.
func EnsureDirs(root string) error {
	for _, tag := range model.AllModelTags() {
		dir := filepath.Join(root, string(tag))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create model directory %s: %w", dir, err)
		}
	}
	return nil
}

// TagDirs returns the existing model-tag directories directly under root.
func TagDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage root %s: %w", root, err)
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := model.ModelTagFromDir(entry.Name()); ok {
			dirs = append(dirs, filepath.Join(root, entry.Name()))
		}
	}
	return dirs, nil
}
