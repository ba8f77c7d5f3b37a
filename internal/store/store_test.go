package store

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/sqldb"
)

// openTestStore returns an initialised SQLite store in a temp directory.
func openTestStore(t *testing.T) *DB {
	t.Helper()
	st, err := Open(context.Background(), sqldb.Options{
		Dialect: sqldb.SQLite,
		Path:    filepath.Join(t.TempDir(), "test.db"),
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

func newRecord(t *testing.T, filename string, tag model.ModelTag) *model.FileRecord {
	t.Helper()
	rec, err := model.NewFileRecord(model.FileRecordParams{
		Filename:    filename,
		ModelTag:    tag,
		StoragePath: filepath.Join(string(tag), filename),
		Size:        4096,
		OwnerID:     model.DefaultOwnerID,
		ContentType: model.ContentTypeWAV,
	})
	if err != nil {
		t.Fatalf("NewFileRecord() failed: %v", err)
	}
	return rec
}

func countFiles(t *testing.T, st *DB) int {
	t.Helper()
	var n int
	if err := st.conn.DB.QueryRow(`SELECT COUNT(*) FROM audio_files`).Scan(&n); err != nil {
		t.Fatalf("Failed to count files: %v", err)
	}
	return n
}

func TestInitSchema_Success(t *testing.T) {
	st := openTestStore(t)

	tables := []string{"users", "audio_files", "transcripts", "translations", "summaries"}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := st.conn.DB.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}

	var name string
	if err := st.conn.DB.QueryRow(`SELECT name FROM users WHERE id = 1`).Scan(&name); err != nil {
		t.Fatalf("Default owner not seeded: %v", err)
	}
	if name != "admin" {
		t.Errorf("default owner name = %q, want admin", name)
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	st := openTestStore(t)

	if err := st.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}

	var users int
	if err := st.conn.DB.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&users); err != nil {
		t.Fatalf("Failed to count users: %v", err)
	}
	if users != 1 {
		t.Errorf("users = %d after two inits, want 1", users)
	}
}

func TestAddFile_Idempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id1, created1, err := st.AddFile(ctx, newRecord(t, "lecture.wav", model.TagBase))
	if err != nil {
		t.Fatalf("First AddFile() failed: %v", err)
	}
	if !created1 {
		t.Error("First AddFile() should create a row")
	}

	id2, created2, err := st.AddFile(ctx, newRecord(t, "lecture.wav", model.TagBase))
	if err != nil {
		t.Fatalf("Second AddFile() failed: %v", err)
	}
	if created2 {
		t.Error("Second AddFile() should not create a row")
	}
	if id1 != id2 {
		t.Errorf("ids differ: %d vs %d", id1, id2)
	}
	if n := countFiles(t, st); n != 1 {
		t.Errorf("row count = %d, want 1", n)
	}

	// Same filename under another tag is a different record.
	id3, created3, err := st.AddFile(ctx, newRecord(t, "lecture.wav", model.TagLarge))
	if err != nil {
		t.Fatalf("AddFile() for other tag failed: %v", err)
	}
	if !created3 || id3 == id1 {
		t.Errorf("expected a new record for another tag, got id=%d created=%v", id3, created3)
	}
}

func TestAddFile_ConcurrentSameKey(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[int64]int)
		created int
		errs    []error
	)

	recs := make([]*model.FileRecord, workers)
	for i := range recs {
		recs[i] = newRecord(t, "race.mp3", model.TagSmall)
	}

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(rec *model.FileRecord) {
			defer wg.Done()
			<-start
			id, ok, err := st.AddFile(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[id]++
			if ok {
				created++
			}
		}(recs[i])
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		t.Errorf("AddFile() failed: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("expected a single id across racers, got %v", ids)
	}
	if created != 1 {
		t.Errorf("expected exactly one creator, got %d", created)
	}
	if n := countFiles(t, st); n != 1 {
		t.Errorf("row count = %d, want 1", n)
	}
}

func TestAddFile_Invalid(t *testing.T) {
	st := openTestStore(t)
	rec := newRecord(t, "a.wav", model.TagBase)
	rec.Filename = ""
	if _, _, err := st.AddFile(context.Background(), rec); err == nil {
		t.Fatal("AddFile() with invalid record should fail")
	}
}

func TestDeleteFile(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec := newRecord(t, "gone.wav", model.TagMedium)
	if _, _, err := st.AddFile(ctx, rec); err != nil {
		t.Fatalf("AddFile() failed: %v", err)
	}

	found, err := st.DeleteFile(ctx, rec.Key())
	if err != nil {
		t.Fatalf("DeleteFile() failed: %v", err)
	}
	if !found {
		t.Error("DeleteFile() should report the record existed")
	}

	found, err = st.DeleteFile(ctx, rec.Key())
	if err != nil {
		t.Fatalf("Second DeleteFile() failed: %v", err)
	}
	if found {
		t.Error("Second DeleteFile() should report absence")
	}

	if _, err := st.FindFile(ctx, rec.Key()); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindFile() after delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteFile_CascadesChain(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec := newRecord(t, "chain.wav", model.TagBase)
	id, _, err := st.AddFile(ctx, rec)
	if err != nil {
		t.Fatalf("AddFile() failed: %v", err)
	}

	tr := &model.Transcript{FileID: id, Status: model.StageDone, Text: "hello"}
	if err := st.SaveTranscript(ctx, tr); err != nil {
		t.Fatalf("SaveTranscript() failed: %v", err)
	}
	tl := &model.Translation{TranscriptID: tr.ID, SourceLanguage: "ru", TextEN: "hello", Status: model.StageDone}
	if err := st.SaveTranslation(ctx, tl); err != nil {
		t.Fatalf("SaveTranslation() failed: %v", err)
	}
	sm := &model.Summary{TranslationID: tl.ID, BaseLanguage: "ru", TargetLanguage: "en", Status: model.StageDone}
	if err := st.SaveSummary(ctx, sm); err != nil {
		t.Fatalf("SaveSummary() failed: %v", err)
	}

	found, err := st.DeleteFile(ctx, rec.Key())
	if err != nil || !found {
		t.Fatalf("DeleteFile() = %v, %v", found, err)
	}

	for _, table := range []string{"audio_files", "transcripts", "translations", "summaries"} {
		var n int
		if err := st.conn.DB.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("Failed to count %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s has %d rows after cascade delete", table, n)
		}
	}
}

func TestAdvanceStatus(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, _, err := st.AddFile(ctx, newRecord(t, "s.wav", model.TagBase))
	if err != nil {
		t.Fatalf("AddFile() failed: %v", err)
	}

	if err := st.AdvanceStatus(ctx, id, model.StatusProcessing); err != nil {
		t.Fatalf("uploaded -> processing failed: %v", err)
	}
	if err := st.AdvanceStatus(ctx, id, model.StatusProcessing); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("processing -> processing = %v, want ErrInvalidTransition", err)
	}
	if err := st.AdvanceStatus(ctx, id, model.StatusUploaded); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("processing -> uploaded = %v, want ErrInvalidTransition", err)
	}
	if err := st.AdvanceStatus(ctx, id, model.StatusDone); err != nil {
		t.Fatalf("processing -> done failed: %v", err)
	}
	if err := st.AdvanceStatus(ctx, id, model.StatusFailed); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("done -> failed = %v, want ErrInvalidTransition", err)
	}

	rec, err := st.GetFile(ctx, id)
	if err != nil {
		t.Fatalf("GetFile() failed: %v", err)
	}
	if rec.Status != model.StatusDone {
		t.Errorf("Status = %q, want done", rec.Status)
	}

	if err := st.AdvanceStatus(ctx, 9999, model.StatusProcessing); !errors.Is(err, ErrNotFound) {
		t.Errorf("AdvanceStatus() on missing record = %v, want ErrNotFound", err)
	}
}

func TestGetFile_RoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec := newRecord(t, "round.mp3", model.TagSmall)
	rec.UploadTime = time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	id, _, err := st.AddFile(ctx, rec)
	if err != nil {
		t.Fatalf("AddFile() failed: %v", err)
	}

	got, err := st.GetFile(ctx, id)
	if err != nil {
		t.Fatalf("GetFile() failed: %v", err)
	}
	if got.Filename != "round.mp3" || got.ModelTag != model.TagSmall {
		t.Errorf("got %s/%s", got.ModelTag, got.Filename)
	}
	if got.Status != model.StatusUploaded {
		t.Errorf("Status = %q, want uploaded", got.Status)
	}
	if got.Size != 4096 || got.OwnerID != model.DefaultOwnerID {
		t.Errorf("Size/OwnerID = %d/%d", got.Size, got.OwnerID)
	}
	if !got.UploadTime.Equal(rec.UploadTime) {
		t.Errorf("UploadTime = %v, want %v", got.UploadTime, rec.UploadTime)
	}
	if got.DurationSecs != 0 {
		t.Errorf("DurationSecs = %v, want 0", got.DurationSecs)
	}

	if _, err := st.GetFile(ctx, id+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFile() missing = %v, want ErrNotFound", err)
	}
}

func TestListFilesAndStats(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	old := newRecord(t, "old.wav", model.TagBase)
	old.UploadTime = time.Now().UTC().Add(-48 * time.Hour)
	if _, _, err := st.AddFile(ctx, old); err != nil {
		t.Fatalf("AddFile() failed: %v", err)
	}
	for _, name := range []string{"a.wav", "b.wav"} {
		if _, _, err := st.AddFile(ctx, newRecord(t, name, model.TagBase)); err != nil {
			t.Fatalf("AddFile() failed: %v", err)
		}
	}
	cid, _, err := st.AddFile(ctx, newRecord(t, "c.mp3", model.TagLarge))
	if err != nil {
		t.Fatalf("AddFile() failed: %v", err)
	}
	if err := st.AdvanceStatus(ctx, cid, model.StatusFailed); err != nil {
		t.Fatalf("AdvanceStatus() failed: %v", err)
	}

	all, err := st.ListFiles(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListFiles() failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("ListFiles() = %d records, want 4", len(all))
	}

	base, err := st.ListFiles(ctx, ListOptions{ModelTag: model.TagBase})
	if err != nil {
		t.Fatalf("ListFiles(base) failed: %v", err)
	}
	if len(base) != 3 {
		t.Errorf("ListFiles(base) = %d, want 3", len(base))
	}

	recent, err := st.ListFiles(ctx, ListOptions{Since: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("ListFiles(since) failed: %v", err)
	}
	if len(recent) != 3 {
		t.Errorf("ListFiles(since) = %d, want 3", len(recent))
	}

	newest, err := st.ListFiles(ctx, ListOptions{Newest: true, Limit: 1})
	if err != nil {
		t.Fatalf("ListFiles(newest) failed: %v", err)
	}
	if len(newest) != 1 || newest[0].ID != cid {
		t.Errorf("ListFiles(newest) = %+v, want id %d", newest, cid)
	}

	stats, err := st.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
	if stats.ByStatus[model.StatusUploaded] != 3 || stats.ByStatus[model.StatusFailed] != 1 {
		t.Errorf("ByStatus = %v", stats.ByStatus)
	}
	if stats.ByModel[model.TagBase] != 3 || stats.ByModel[model.TagLarge] != 1 {
		t.Errorf("ByModel = %v", stats.ByModel)
	}
}

func TestGetFileDetail(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, _, err := st.AddFile(ctx, newRecord(t, "detail.wav", model.TagBase))
	if err != nil {
		t.Fatalf("AddFile() failed: %v", err)
	}

	detail, err := st.GetFileDetail(ctx, id)
	if err != nil {
		t.Fatalf("GetFileDetail() failed: %v", err)
	}
	if detail.Transcript != nil {
		t.Error("expected no transcript yet")
	}

	tr := &model.Transcript{FileID: id, Status: model.StageProcessing}
	if err := st.SaveTranscript(ctx, tr); err != nil {
		t.Fatalf("SaveTranscript() failed: %v", err)
	}
	firstID := tr.ID
	tr.Status = model.StageDone
	tr.Text = "privet"
	tr.TextChars = 6
	if err := st.SaveTranscript(ctx, tr); err != nil {
		t.Fatalf("SaveTranscript() update failed: %v", err)
	}
	if tr.ID != firstID {
		t.Errorf("upsert changed transcript id: %d -> %d", firstID, tr.ID)
	}

	detail, err = st.GetFileDetail(ctx, id)
	if err != nil {
		t.Fatalf("GetFileDetail() failed: %v", err)
	}
	if detail.Transcript == nil || detail.Transcript.Status != model.StageDone || detail.Transcript.Text != "privet" {
		t.Errorf("Transcript = %+v", detail.Transcript)
	}
	if detail.Translation != nil || detail.Summary != nil {
		t.Error("expected no translation or summary")
	}
}

func TestSetContentType(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, _, err := st.AddFile(ctx, newRecord(t, "ct.mp3", model.TagBase))
	if err != nil {
		t.Fatalf("AddFile() failed: %v", err)
	}
	if err := st.SetContentType(ctx, id, model.ContentTypeMPEG); err != nil {
		t.Fatalf("SetContentType() failed: %v", err)
	}
	rec, err := st.GetFile(ctx, id)
	if err != nil {
		t.Fatalf("GetFile() failed: %v", err)
	}
	if rec.ContentType != model.ContentTypeMPEG {
		t.Errorf("ContentType = %q", rec.ContentType)
	}
	if err := st.SetContentType(ctx, id+1, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetContentType() on missing = %v, want ErrNotFound", err)
	}

	if err := st.SetDuration(ctx, id, 12.5); err != nil {
		t.Fatalf("SetDuration() failed: %v", err)
	}
	rec, err = st.GetFile(ctx, id)
	if err != nil {
		t.Fatalf("GetFile() failed: %v", err)
	}
	if rec.DurationSecs != 12.5 {
		t.Errorf("DurationSecs = %v, want 12.5", rec.DurationSecs)
	}
}

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@h:5432/db?sslmode=disable":   "pgx5://u:p@h:5432/db?sslmode=disable",
		"postgresql://u:p@h:5432/db?sslmode=disable": "pgx5://u:p@h:5432/db?sslmode=disable",
		"pgx5://u@h/db":                              "pgx5://u@h/db",
	}
	for in, want := range tests {
		if got := MigrateURL(in); got != want {
			t.Errorf("MigrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}
