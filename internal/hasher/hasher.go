// Package hasher computes content digests for candidate files in parallel
// and regroups them by (size, digest).
//
// # Architecture Overview
//
// Hashing is the CPU-and-I/O-heavy step of the pipeline and the only one
// that benefits from overlapping disk seeks with digest work on other
// files, so it runs on a fixed worker pool. Every surviving candidate is
// streamed in full through an XXH3-64 state; the 64-bit digest then keys
// the second bucketing pass.
//
// # Concurrency Model
//
//  1. WORKER GOROUTINES (fixed pool)
//     - N workers consume files from a bounded job channel
//     - Each worker holds at most one open file at a time
//     - Digest results flow to a bounded result channel
//
//  2. FEEDER GOROUTINE
//     - Queues every file from every candidate group, then closes the
//       job channel
//     - Observes cancellation between sends
//
//  3. COORDINATOR (main goroutine)
//     - Drains the result channel into (size, digest) buckets
//     - A closer goroutine closes the result channel once the worker
//       WaitGroup settles, so a dead pool can never hang the collector
//
// # Synchronization Primitives
//
//	┌─────────────────┬────────────────────────────────────────────────┐
//	│ Primitive       │ Purpose                                        │
//	├─────────────────┼────────────────────────────────────────────────┤
//	│ jobCh           │ Bounded (2×workers) MPMC queue of files        │
//	│ resultCh        │ Bounded channel of digested files              │
//	│ workerWg        │ Signals worker pool completion                 │
//	│ padded atomics  │ Lock-free byte/file counters for progress      │
//	└─────────────────┴────────────────────────────────────────────────┘
//
// The bounded job channel provides backpressure: the feeder stalls when
// the pool is saturated instead of materializing the whole queue.
package hasher

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/cowdup/internal/progress"
	"github.com/ivoronin/cowdup/internal/types"
	"github.com/zeebo/xxh3"
	"golang.org/x/sys/cpu"
)

// blockSize is the read buffer size for digest streaming (256 KiB).
const blockSize = 256 * 1024

// Hasher digests candidate files and buckets them by (size, digest).
//
// The hasher is designed for single-use: create with New(), call Run() once.
type Hasher struct {
	// Config (immutable, set by New)
	groups       types.CandidateGroups // Input: same-size groups from screener
	workers      int                   // Worker pool size
	showProgress bool                  // Whether to display progress bar
	errCh        chan error            // Non-fatal errors (open/read failures)

	// Runtime (initialized in Run)
	jobCh    chan *types.FileInfo // Files awaiting a digest
	resultCh chan *types.FileInfo // Files with Digest populated
	workerWg sync.WaitGroup       // Tracks worker goroutines
	bar      *progress.Bar        // Progress display (thread-safe)
	stats    *stats               // Progress tracking
}

// New creates a Hasher for the given candidate groups.
func New(groups types.CandidateGroups, workers int, showProgress bool, errCh chan error) *Hasher {
	return &Hasher{
		groups:       groups,
		workers:      workers,
		showProgress: showProgress,
		errCh:        errCh,
	}
}

// stats tracks hashing progress.
//
// The byte and file counters sit on their own cache lines: every worker
// bumps them on every read loop iteration, and shared-line bouncing is
// measurable at that rate.
type stats struct {
	totalBytes  uint64        // Bytes to hash (known once the screener materialized)
	hashedBytes atomic.Uint64 // Bytes streamed through digest states
	_           cpu.CacheLinePad
	hashedFiles atomic.Int64 // Files fully digested
	_           cpu.CacheLinePad
	droppedFiles atomic.Int64 // Files dropped on I/O errors
	startTime    time.Time
}

func (s *stats) String() string {
	pct := 0.0
	if s.totalBytes > 0 {
		pct = float64(s.hashedBytes.Load()) / float64(s.totalBytes) * 100
	}
	return fmt.Sprintf("Hashed %d files, %s of %s (%.0f%%) in %.1fs",
		s.hashedFiles.Load(),
		humanize.IBytes(s.hashedBytes.Load()), humanize.IBytes(s.totalBytes),
		pct, time.Since(s.startTime).Seconds())
}

// hashKey buckets digested files: equal size AND equal digest.
type hashKey struct {
	size   int64
	digest uint64
}

// Run digests every candidate file and returns (size, digest) groups with
// at least two members. Files whose digest could not be computed are
// reported on the error channel and silently absent from the result.
//
// Coordination sequence:
//  1. Start N workers (consume jobCh, produce resultCh)
//  2. Feeder goroutine queues all files, then closes jobCh
//  3. Closer goroutine closes resultCh once workerWg settles
//  4. Coordinator drains resultCh into (size, digest) buckets
func (h *Hasher) Run(ctx context.Context) types.HashGroups {
	if h.groups.Len() == 0 {
		return types.NewHashGroups(nil)
	}

	var totalBytes uint64
	for _, cg := range h.groups.Items() {
		totalBytes += uint64(cg.First().Size) * uint64(cg.Len())
	}

	// Initialize runtime fields
	h.jobCh = make(chan *types.FileInfo, 2*h.workers)
	h.resultCh = make(chan *types.FileInfo, 2*h.workers)
	h.stats = &stats{totalBytes: totalBytes, startTime: time.Now()}
	h.bar = progress.NewBytes(h.showProgress, int64(totalBytes))
	h.bar.Describe(h.stats)

	// Start workers
	for i := 0; i < h.workers; i++ {
		h.workerWg.Add(1)
		go func() {
			defer h.workerWg.Done()
			h.worker(ctx)
		}()
	}

	// Feeder: queue every candidate file, then signal end of input
	go func() {
		defer close(h.jobCh)
		for _, cg := range h.groups.Items() {
			for _, f := range cg.Items() {
				select {
				case h.jobCh <- f:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	// Close resultCh when the pool drains - guarantees the collector below
	// terminates even if workers dropped every file
	go func() {
		h.workerWg.Wait()
		close(h.resultCh)
	}()

	// Collect digested files into (size, digest) buckets
	byKey := make(map[hashKey][]*types.FileInfo)
	for f := range h.resultCh {
		key := hashKey{size: f.Size, digest: f.Digest}
		byKey[key] = append(byKey[key], f)
	}

	// Keep only buckets with 2+ members
	var result []types.HashGroup
	for _, files := range byKey {
		if len(files) >= 2 {
			result = append(result, types.NewHashGroup(files))
		}
	}

	h.bar.Finish(h.stats)
	return types.NewHashGroups(result)
}

// worker digests files from the job channel until it closes.
// A file in hand is always finished; cancellation is observed between files.
func (h *Hasher) worker(ctx context.Context) {
	buf := make([]byte, blockSize)
	for f := range h.jobCh {
		if ctx.Err() != nil {
			continue // Drain remaining jobs without touching the disk
		}

		digest, err := h.digestFile(f.Path, buf)
		if err != nil {
			h.stats.droppedFiles.Add(1)
			h.sendError(fmt.Errorf("hash %s: %w", f.Path, err))
			continue
		}

		f.Digest = digest
		h.stats.hashedFiles.Add(1)
		h.bar.Describe(h.stats)
		h.resultCh <- f
	}
}

// digestFile streams the file's entire contents through an XXH3-64 state.
// The caller owns buf; one buffer is reused across a worker's lifetime.
func (h *Hasher) digestFile(path string, buf []byte) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	state := xxh3.New()
	for {
		n, err := f.Read(buf)
		if n > 0 {
			_, _ = state.Write(buf[:n]) // Write never fails
			h.stats.hashedBytes.Add(uint64(n))
			h.bar.Add(int64(n))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}

	return state.Sum64(), nil
}

// sendError sends an error to the errors channel if it's not nil.
func (h *Hasher) sendError(err error) {
	if h.errCh != nil {
		h.errCh <- err
	}
}
