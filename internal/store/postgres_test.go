package store

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/sqldb"
)

// openPostgresStore starts a disposable Postgres container. Skipped unless
// TEST_INTEGRATION is set, since it needs a Docker daemon.
func openPostgresStore(t *testing.T) *DB {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("set TEST_INTEGRATION=1 to run Postgres integration tests")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("audiosync_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/audiosync_test?sslmode=disable", host, port.Port())
	st, err := Open(ctx, sqldb.Options{
		Dialect: sqldb.Postgres,
		DSN:     dsn,
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

func TestPostgres_AddDeleteCascade(t *testing.T) {
	st := openPostgresStore(t)
	ctx := context.Background()

	rec := newRecord(t, "pg.wav", model.TagMedium)
	id, created, err := st.AddFile(ctx, rec)
	if err != nil || !created {
		t.Fatalf("AddFile() = %d, %v, %v", id, created, err)
	}

	again, created, err := st.AddFile(ctx, newRecord(t, "pg.wav", model.TagMedium))
	if err != nil || created || again != id {
		t.Fatalf("second AddFile() = %d, %v, %v", again, created, err)
	}

	if err := st.AdvanceStatus(ctx, id, model.StatusProcessing); err != nil {
		t.Fatalf("AdvanceStatus() failed: %v", err)
	}

	tr := &model.Transcript{FileID: id, Status: model.StageDone}
	if err := st.SaveTranscript(ctx, tr); err != nil {
		t.Fatalf("SaveTranscript() failed: %v", err)
	}
	tl := &model.Translation{TranscriptID: tr.ID, SourceLanguage: "ru", Status: model.StageDone}
	if err := st.SaveTranslation(ctx, tl); err != nil {
		t.Fatalf("SaveTranslation() failed: %v", err)
	}

	found, err := st.DeleteFile(ctx, rec.Key())
	if err != nil || !found {
		t.Fatalf("DeleteFile() = %v, %v", found, err)
	}

	var n int
	if err := st.conn.DB.QueryRow(`SELECT COUNT(*) FROM transcripts`).Scan(&n); err != nil {
		t.Fatalf("Failed to count transcripts: %v", err)
	}
	if n != 0 {
		t.Errorf("transcripts = %d after cascade, want 0", n)
	}
}

func TestPostgres_ConcurrentAdd(t *testing.T) {
	st := openPostgresStore(t)
	ctx := context.Background()

	const workers = 10
	recs := make([]*model.FileRecord, workers)
	for i := range recs {
		recs[i] = newRecord(t, "pg-race.mp3", model.TagLarge)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[int64]bool)
	)
	for _, rec := range recs {
		wg.Add(1)
		go func(rec *model.FileRecord) {
			defer wg.Done()
			id, _, err := st.AddFile(ctx, rec)
			if err != nil {
				t.Errorf("AddFile() failed: %v", err)
				return
			}
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}(rec)
	}
	wg.Wait()

	if len(ids) != 1 {
		t.Errorf("expected one id, got %v", ids)
	}
}
