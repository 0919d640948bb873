// Package scanner provides parallel filesystem scanning for reflink-candidate
// detection.
//
// # Architecture Overview
//
// The scanner uses a concurrent fan-out/fan-in architecture to efficiently
// traverse a directory tree while respecting system resource limits.
//
// # Concurrency Model
//
// The scanner employs three concurrent components:
//
//  1. WALKER GOROUTINES (fan-out)
//     - One goroutine spawned per directory discovered
//     - Concurrency limited by semaphore (walkerSem)
//     - Each walker: acquires semaphore → lists directory → releases semaphore → spawns child walkers
//
//  2. COLLECTOR GOROUTINE (fan-in)
//     - Single goroutine that drains resultCh into a slice
//     - Provides the aggregation point for all walker outputs
//     - Runs until resultCh is closed
//
//  3. MAIN GOROUTINE (orchestrator)
//     - Pins the root's device id, spawns the initial walker
//     - Waits for all walkers (walkerWg.Wait)
//     - Closes resultCh to signal collector
//     - Waits for collector (collectorWg.Wait)
//
// # Filesystem Boundary
//
// Reflinking is an intra-filesystem operation, so a scan never crosses
// device boundaries: the device id of the root is captured on entry and
// every entry reporting a different device (a mount point, a bind mount)
// is skipped silently, directories included.
//
// # Entry Filtering
//
//   - Only regular files are yielded; symlinks are never followed and
//     special files are ignored
//   - Files below the minimum size are dropped (size 0 can never be a
//     meaningful reflink candidate)
//   - Basename glob excludes prune both files and whole directories
package scanner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/cowdup/internal/progress"
	"github.com/ivoronin/cowdup/internal/types"
)

// Scanner discovers candidate regular files using parallel directory traversal.
//
// The scanner is designed for single-use: create with New(), call Run() once.
type Scanner struct {
	// Config (immutable, set by New)
	root         string     // Root directory to scan
	minSize      int64      // Minimum file size filter (bytes)
	excludes     []string   // Glob patterns for basename exclusion
	workers      int        // Max concurrent directory reads
	showProgress bool       // Whether to display progress indicator
	errCh        chan error // Non-fatal errors (permission denied, etc.)

	// Runtime (initialized in Run)
	rootDev   uint64               // Device id of the root; entries elsewhere are skipped
	walkerWg  sync.WaitGroup       // Tracks in-flight walker goroutines
	walkerSem types.Semaphore      // Limits concurrent directory reads
	resultCh  chan *types.FileInfo // Fan-in channel: walkers → collector
	stats     *stats               // Atomic counters for progress tracking
	bar       *progress.Bar        // Progress display (thread-safe)
}

// New creates a Scanner for discovering candidate files under root.
func New(root string, minSize int64, excludes []string, workers int, showProgress bool, errCh chan error) *Scanner {
	return &Scanner{
		root:         root,
		minSize:      minSize,
		excludes:     excludes,
		workers:      workers,
		showProgress: showProgress,
		errCh:        errCh,
	}
}

// stats tracks scanning progress using atomic counters for lock-free updates.
//
// Individual reads may not see a perfectly consistent view across all four
// counters, which is acceptable for progress display.
type stats struct {
	scannedFiles atomic.Int64 // Total regular files discovered (all walkers)
	matchedFiles atomic.Int64 // Files passing size/exclude/device filters
	scannedBytes atomic.Int64 // Total bytes across all scanned files
	matchedBytes atomic.Int64 // Bytes of matched files only
	startTime    time.Time    // For elapsed time calculation
}

func (s *stats) String() string {
	return fmt.Sprintf("Scanned %d (%s), matched %d files (%s) in %.1fs",
		s.scannedFiles.Load(), humanize.IBytes(uint64(s.scannedBytes.Load())),
		s.matchedFiles.Load(), humanize.IBytes(uint64(s.matchedBytes.Load())),
		time.Since(s.startTime).Seconds())
}

// Run executes the scan and returns matching files.
//
// The returned error is fatal only: it reports a root that cannot be
// resolved or stat'ed. Per-entry failures go to the error channel and the
// walk continues without them.
//
// Coordination sequence:
//  1. Resolve the root and pin its device id
//  2. Start collector goroutine (drains resultCh → results slice)
//  3. Spawn the root walker (fan-out begins)
//  4. Wait for all walkers to complete (walkerWg.Wait)
//  5. Close resultCh to signal collector to finish
//  6. Wait for collector to drain remaining items (collectorWg.Wait)
func (s *Scanner) Run() ([]*types.FileInfo, error) {
	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", s.root, err)
	}

	var st syscall.Stat_t
	if err := syscall.Stat(absRoot, &st); err != nil {
		return nil, fmt.Errorf("stat %s: %w", absRoot, err)
	}
	s.rootDev = uint64(st.Dev) //nolint:unconvert // platform-dependent type

	// Initialize runtime fields
	s.walkerSem = types.NewSemaphore(s.workers)
	s.bar = progress.NewSpinner(s.showProgress)
	s.stats = &stats{startTime: time.Now()}
	s.bar.Describe(s.stats) // Render progress indicator immediately
	s.resultCh = make(chan *types.FileInfo, 1000) // Buffer smooths producer/consumer rates

	// Collector goroutine: single consumer aggregates all walker outputs.
	// Runs until resultCh is closed, then signals completion via collectorWg.
	var results []*types.FileInfo
	collectorWg := sync.WaitGroup{}

	collectorWg.Add(1)
	go func() {
		for r := range s.resultCh {
			results = append(results, r)
		}
		collectorWg.Done()
	}()

	s.walkDirectory(absRoot)

	// Shutdown sequence: wait for producers, then signal consumer, then wait for consumer
	s.walkerWg.Wait()  // All walkers done
	close(s.resultCh)  // Signal collector: no more items coming
	collectorWg.Wait() // Collector drained channel

	s.bar.Finish(s.stats)
	return results, nil
}

// walkDirectory spawns a goroutine to process one directory and recursively spawn children.
//
// Semaphore pattern:
//   - walkerWg.Add(1) BEFORE goroutine spawn (prevents race with Wait)
//   - acquire semaphore at goroutine start (blocks if at concurrency limit)
//   - release semaphore AFTER listing but BEFORE spawning children
//
// This creates a "breadth-controlled depth-first" traversal where the semaphore
// limits how many directories are being read simultaneously, but doesn't limit
// the total number of pending goroutines (which is bounded by directory count).
func (s *Scanner) walkDirectory(dir string) {
	s.walkerWg.Add(1) // Increment BEFORE spawn to prevent race with Wait()
	go func() {
		defer s.walkerWg.Done()

		// Semaphore limits concurrent directory reads
		s.walkerSem.Acquire()
		files, subdirs, err := s.listDirectory(dir)
		s.walkerSem.Release()
		if err != nil {
			s.sendError(err)
			return
		}

		// Process files: atomic stats + channel send (no locks needed)
		for _, f := range files {
			s.stats.scannedFiles.Add(1)
			s.stats.scannedBytes.Add(f.Size)
			if f.Size >= s.minSize {
				s.resultCh <- f // May block briefly if channel buffer full
				s.stats.matchedFiles.Add(1)
				s.stats.matchedBytes.Add(f.Size)
			}
		}
		s.bar.Describe(s.stats)

		// Recursive fan-out: spawn walker for each subdirectory
		for _, sub := range subdirs {
			s.walkDirectory(sub)
		}
	}()
}

// listDirectory reads a single directory, returning files and subdirectories.
//
// Uses batched ReadDir (1000 entries per batch) to handle large directories
// efficiently. This is the ONLY place where directory I/O occurs - protected
// by walkerSem.
func (s *Scanner) listDirectory(dirPath string) (files []*types.FileInfo, subdirs []string, err error) {
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = dir.Close() }()

	// Batch reading: ReadDir(n) returns up to n entries at a time.
	// This bounds memory usage when listing directories with millions of files.
	const batchSize = 1000
	for {
		entries, err := dir.ReadDir(batchSize)
		if len(entries) == 0 {
			if err != nil && err != io.EOF {
				return files, subdirs, err
			}
			break
		}

		for _, entry := range entries {
			f, sub := s.processEntry(dirPath, entry)
			if f != nil {
				files = append(files, f)
			}
			if sub != "" {
				subdirs = append(subdirs, sub)
			}
		}
	}

	return files, subdirs, nil
}

// processEntry processes a single directory entry, returning a file or subdirectory path.
// Returns (nil, "") for entries that should be skipped: symlinks, devices,
// excluded names, anything outside the root's filesystem, and entries whose
// metadata cannot be read (those are reported on the error channel).
func (s *Scanner) processEntry(dirPath string, entry os.DirEntry) (file *types.FileInfo, subdir string) {
	fullPath := filepath.Join(dirPath, entry.Name())

	if s.shouldExclude(fullPath) {
		return nil, ""
	}

	if entry.IsDir() {
		info, err := entry.Info()
		if err != nil {
			s.sendError(err)
			return nil, ""
		}
		if entryDev(info) != s.rootDev {
			// Mount point - do not descend
			return nil, ""
		}
		return nil, fullPath
	}

	// Skip non-regular files (symlinks, devices, sockets, etc.)
	if !entry.Type().IsRegular() {
		return nil, ""
	}

	// Info() may trigger additional stat call (platform-dependent)
	info, err := entry.Info()
	if err != nil {
		s.sendError(err)
		return nil, "" // Skip files we can't stat (race condition, permissions)
	}

	if entryDev(info) != s.rootDev {
		return nil, ""
	}

	return &types.FileInfo{Path: fullPath, Size: info.Size()}, ""
}

// entryDev extracts the device id backing a filesystem entry.
func entryDev(info os.FileInfo) uint64 {
	stat := info.Sys().(*syscall.Stat_t)
	return uint64(stat.Dev) //nolint:unconvert // platform-dependent type
}

// sendError sends an error to the errors channel if it's not nil.
func (s *Scanner) sendError(err error) {
	if s.errCh != nil {
		s.errCh <- err
	}
}

// shouldExclude checks if a path matches any glob exclude pattern.
func (s *Scanner) shouldExclude(path string) bool {
	if len(s.excludes) == 0 {
		return false
	}
	base := filepath.Base(path)
	for _, pattern := range s.excludes {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
