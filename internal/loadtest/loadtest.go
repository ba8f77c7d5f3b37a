// Package loadtest hammers the metadata store with concurrent adds of
// overlapping keys and checks that every key still resolves to one row.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/sqldb"
	"github.com/sciber-ai/audiosync/internal/store"
)

// Harness is a store seeded with a key set for load testing.
type Harness struct {
	DB   *store.DB
	Keys []model.FileKey
}

// LatencyStats captures the latency distribution of one run.
type LatencyStats struct {
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Calls int           `json:"calls"`
}

// Result is the outcome of RunConcurrentAdds.
type Result struct {
	Latency *LatencyStats `json:"latency"`

	// Created counts calls that inserted a row. A correct store reports
	// exactly one per key.
	Created int `json:"created"`
	Errors  int `json:"errors"`

	// IDs holds every distinct id returned per key.
	IDs map[model.FileKey][]int64 `json:"-"`
}

// CreateHarness opens a store with opts and prepares numKeys keys spread
// over the model tags. The store starts empty.
func CreateHarness(ctx context.Context, opts sqldb.Options, numKeys int) (*Harness, error) {
	if numKeys <= 0 {
		return nil, fmt.Errorf("numKeys must be positive")
	}
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 50
	}

	db, err := store.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Harness{DB: db, Keys: generateKeys(numKeys)}, nil
}

// Close closes the store.
func (h *Harness) Close() error {
	if h.DB != nil {
		return h.DB.Close()
	}
	return nil
}

func generateKeys(n int) []model.FileKey {
	tags := model.AllModelTags()
	keys := make([]model.FileKey, n)
	for i := range keys {
		ext := ".mp3"
		if i%3 == 0 {
			ext = ".wav"
		}
		keys[i] = model.FileKey{
			Filename: fmt.Sprintf("load-%05d%s", i/len(tags), ext),
			ModelTag: tags[i%len(tags)],
		}
	}
	return keys
}

// RunConcurrentAdds starts numWorkers goroutines. Each adds every key
// addsPerKey times in its own shuffled order, so all workers race on all
// keys.
func (h *Harness) RunConcurrentAdds(ctx context.Context, numWorkers, addsPerKey int) (*Result, error) {
	if numWorkers <= 0 || addsPerKey <= 0 {
		return nil, fmt.Errorf("numWorkers and addsPerKey must be positive")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations []time.Duration
		ids       = make(map[model.FileKey]map[int64]bool)
		created   int
		errCount  int
	)

	start := make(chan struct{})
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(worker) + 1))
			order := make([]model.FileKey, 0, len(h.Keys)*addsPerKey)
			for i := 0; i < addsPerKey; i++ {
				order = append(order, h.Keys...)
			}
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

			local := make([]time.Duration, 0, len(order))
			<-start
			for _, key := range order {
				rec, err := model.NewFileRecord(model.FileRecordParams{
					Filename:    key.Filename,
					ModelTag:    key.ModelTag,
					StoragePath: string(key.ModelTag) + "/" + key.Filename,
					Size:        int64(1024 + worker),
					OwnerID:     model.DefaultOwnerID,
				})
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}

				began := time.Now()
				id, isNew, err := h.DB.AddFile(ctx, rec)
				local = append(local, time.Since(began))

				mu.Lock()
				switch {
				case err != nil:
					errCount++
				default:
					if isNew {
						created++
					}
					if ids[key] == nil {
						ids[key] = make(map[int64]bool)
					}
					ids[key][id] = true
				}
				mu.Unlock()
			}

			mu.Lock()
			durations = append(durations, local...)
			mu.Unlock()
		}(w)
	}
	close(start)
	wg.Wait()

	if len(durations) == 0 {
		return nil, fmt.Errorf("no calls completed")
	}

	res := &Result{
		Latency: computeLatencyStats(durations),
		Created: created,
		Errors:  errCount,
		IDs:     make(map[model.FileKey][]int64, len(ids)),
	}
	for key, set := range ids {
		for id := range set {
			res.IDs[key] = append(res.IDs[key], id)
		}
		slices.Sort(res.IDs[key])
	}
	return res, nil
}

// Verify checks that the store holds exactly one row per key and that every
// caller saw that row's id.
func (h *Harness) Verify(ctx context.Context, res *Result) error {
	if res.Errors > 0 {
		return fmt.Errorf("%d calls failed", res.Errors)
	}
	if res.Created != len(h.Keys) {
		return fmt.Errorf("%d inserts reported, want %d", res.Created, len(h.Keys))
	}

	files, err := h.DB.ListFiles(ctx, store.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}
	if len(files) != len(h.Keys) {
		return fmt.Errorf("store holds %d rows, want %d", len(files), len(h.Keys))
	}

	byKey := make(map[model.FileKey]int64, len(files))
	for _, f := range files {
		if _, dup := byKey[f.Key()]; dup {
			return fmt.Errorf("duplicate row for %s", f.Key())
		}
		byKey[f.Key()] = f.ID
	}

	for _, key := range h.Keys {
		id, ok := byKey[key]
		if !ok {
			return fmt.Errorf("no row for %s", key)
		}
		seen := res.IDs[key]
		if len(seen) != 1 || seen[0] != id {
			return fmt.Errorf("callers saw ids %v for %s, want [%d]", seen, key, id)
		}
	}
	return nil
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Calls: len(sorted),
	}
}

// Print writes the statistics in a fixed layout.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Calls:         %d\n", s.Calls)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
