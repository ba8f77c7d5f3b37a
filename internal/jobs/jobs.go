// Package jobs names the background jobs and defines their arguments.
//
// Producers (the reconciler, the sweep and the CLI) build the typed argument
// structs below and submit them through a queue.Submitter. Handlers parse
// them back with the matching Parse function.
package jobs

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sciber-ai/audiosync/internal/layout"
	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/queue"
)

// Job names. They are stored in the queue and must not change.
const (
	AddFile     = "enqueue_add_file"
	DeleteFile  = "enqueue_delete_file"
	ProcessFile = "process_audio_file"
	SyncStorage = "sync_storage_with_db"
)

// Names returns every job name.
func Names() []string {
	return []string{AddFile, DeleteFile, ProcessFile, SyncStorage}
}

// AddFileArgs asks for a metadata record for a file found on disk.
type AddFileArgs struct {
	Filename     string
	ModelTag     model.ModelTag
	RelativePath string
	Size         int64
	DisplayName  string
	OwnerID      int64
}

// NewAddFileArgs builds the add request for a file found on disk. The
// display name is the filename.
func NewAddFileArgs(f layout.File, ownerID int64) AddFileArgs {
	if ownerID == 0 {
		ownerID = model.DefaultOwnerID
	}
	return AddFileArgs{
		Filename:     f.Key.Filename,
		ModelTag:     f.Key.ModelTag,
		RelativePath: filepath.ToSlash(f.RelPath),
		Size:         f.Size,
		DisplayName:  f.Key.Filename,
		OwnerID:      ownerID,
	}
}

// Args converts a to queue arguments.
func (a AddFileArgs) Args() queue.Args {
	args := queue.Args{
		"filename":      a.Filename,
		"model_tag":     string(a.ModelTag),
		"relative_path": a.RelativePath,
		"size":          a.Size,
	}
	if a.DisplayName != "" {
		args["display_name"] = a.DisplayName
	}
	if a.OwnerID != 0 {
		args["owner_id"] = a.OwnerID
	}
	return args
}

// Key returns the identity of the file.
func (a AddFileArgs) Key() model.FileKey {
	return model.FileKey{Filename: a.Filename, ModelTag: a.ModelTag}
}

// Params converts a into record construction parameters. A missing owner
// becomes the default owner.
func (a AddFileArgs) Params() model.FileRecordParams {
	owner := a.OwnerID
	if owner == 0 {
		owner = model.DefaultOwnerID
	}
	return model.FileRecordParams{
		Filename:    a.Filename,
		ModelTag:    a.ModelTag,
		StoragePath: a.RelativePath,
		Size:        a.Size,
		DisplayName: a.DisplayName,
		OwnerID:     owner,
	}
}

// ParseAddFileArgs reads AddFileArgs from queue arguments.
func ParseAddFileArgs(args queue.Args) (AddFileArgs, error) {
	var (
		a   AddFileArgs
		err error
	)
	if a.Filename, err = args.String("filename"); err != nil {
		return a, err
	}
	tag, err := args.String("model_tag")
	if err != nil {
		return a, err
	}
	a.ModelTag = model.ModelTag(tag)
	if !a.ModelTag.IsValid() {
		return a, fmt.Errorf("invalid model tag %q", tag)
	}
	if a.RelativePath, err = args.String("relative_path"); err != nil {
		return a, err
	}
	if a.Size, err = args.Int64("size"); err != nil {
		return a, err
	}
	if _, ok := args["display_name"]; ok {
		if a.DisplayName, err = args.String("display_name"); err != nil {
			return a, err
		}
	}
	if _, ok := args["owner_id"]; ok {
		if a.OwnerID, err = args.Int64("owner_id"); err != nil {
			return a, err
		}
	}
	return a, nil
}

// DeleteFileArgs asks for the record of a vanished file to be removed.
type DeleteFileArgs struct {
	Filename string
	ModelTag model.ModelTag
}

// Args converts a to queue arguments.
func (a DeleteFileArgs) Args() queue.Args {
	return queue.Args{
		"filename":  a.Filename,
		"model_tag": string(a.ModelTag),
	}
}

// Key returns the identity of the file.
func (a DeleteFileArgs) Key() model.FileKey {
	return model.FileKey{Filename: a.Filename, ModelTag: a.ModelTag}
}

// ParseDeleteFileArgs reads DeleteFileArgs from queue arguments.
func ParseDeleteFileArgs(args queue.Args) (DeleteFileArgs, error) {
	var (
		a   DeleteFileArgs
		err error
	)
	if a.Filename, err = args.String("filename"); err != nil {
		return a, err
	}
	tag, err := args.String("model_tag")
	if err != nil {
		return a, err
	}
	a.ModelTag = model.ModelTag(tag)
	if !a.ModelTag.IsValid() {
		return a, fmt.Errorf("invalid model tag %q", tag)
	}
	return a, nil
}

// ProcessFileArgs asks for the processing chain to run on a record.
type ProcessFileArgs struct {
	RecordID int64
}

// Args converts a to queue arguments.
func (a ProcessFileArgs) Args() queue.Args {
	return queue.Args{"record_id": a.RecordID}
}

// ParseProcessFileArgs reads ProcessFileArgs from queue arguments.
func ParseProcessFileArgs(args queue.Args) (ProcessFileArgs, error) {
	id, err := args.Int64("record_id")
	if err != nil {
		return ProcessFileArgs{}, err
	}
	if id <= 0 {
		return ProcessFileArgs{}, fmt.Errorf("invalid record id %d", id)
	}
	return ProcessFileArgs{RecordID: id}, nil
}

// SubmitAddFile enqueues an add job.
func SubmitAddFile(ctx context.Context, s queue.Submitter, a AddFileArgs) (string, error) {
	return s.Submit(ctx, AddFile, a.Args())
}

// SubmitDeleteFile enqueues a delete job.
func SubmitDeleteFile(ctx context.Context, s queue.Submitter, a DeleteFileArgs) (string, error) {
	return s.Submit(ctx, DeleteFile, a.Args())
}

// SubmitProcessFile enqueues a processing job for record id.
func SubmitProcessFile(ctx context.Context, s queue.Submitter, id int64) (string, error) {
	return s.Submit(ctx, ProcessFile, ProcessFileArgs{RecordID: id}.Args())
}

// SubmitSync enqueues a full storage sweep. A sweep already waiting in the
// queue is reused, so periodic triggers do not pile up behind busy workers.
func SubmitSync(ctx context.Context, s queue.Submitter) (string, error) {
	return s.Submit(ctx, SyncStorage, nil, queue.WithMaxAttempts(1), queue.Unique())
}
