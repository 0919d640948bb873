// Package verifier confirms duplicates by byte-exact comparison.
//
// # Overview
//
// The digest prefilter narrows candidates to near-zero false positives,
// but byte confirmation is non-negotiable: the tool's output triggers
// irreversible data collapse downstream. The verifier partitions each
// (size, digest) group into sets of truly identical files by streaming
// lockstep comparison.
//
// # Partitioning Algorithm
//
// Pick any member as the reference and compare every other member against
// it. A mismatch does not simply split off one file: the mismatched file
// seeds the next tentative class, and the procedure restarts against the
// remaining unclassified members. This yields a correct partition for the
// (astronomically rare) multi-way digest collision. For the overwhelmingly
// common two-member group the loop degenerates into a single pairwise
// comparison.
//
// A file producing an I/O error is excluded from every class of its
// group; if the failing file was the reference, members that already
// matched it remain a valid class (each equals the same full content).
//
// # Concurrency Model
//
// Groups are independent, so they are partitioned concurrently on a
// bounded pool. Each in-flight partition holds at most two open files
// (reference + candidate), keeping the fd footprint at 2×workers.
package verifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/conc/pool"

	"github.com/ivoronin/cowdup/internal/progress"
	"github.com/ivoronin/cowdup/internal/types"
)

// blockSize is the lockstep comparison buffer size (256 KiB per file).
const blockSize = 256 * 1024

// Verifier partitions hash groups into byte-identical duplicate sets.
//
// The verifier is designed for single-use: create with New(), call Run() once.
type Verifier struct {
	// Config (immutable, set by New)
	groups       types.HashGroups // Input: (size, digest) groups from hasher
	workers      int              // Max concurrent group partitions
	showProgress bool             // Whether to display progress bar
	errCh        chan error       // Non-fatal errors (open/read failures)

	// Runtime (initialized in Run)
	bar   *progress.Bar
	stats *stats
}

// New creates a Verifier for the given hash groups.
func New(groups types.HashGroups, workers int, showProgress bool, errCh chan error) *Verifier {
	return &Verifier{
		groups:       groups,
		workers:      workers,
		showProgress: showProgress,
		errCh:        errCh,
	}
}

// stats tracks verification progress.
type stats struct {
	totalBytes     uint64        // Bytes in all hash-group members (fixed upfront)
	verifiedBytes  atomic.Uint64 // Bytes of files whose fate is decided
	readBytes      atomic.Uint64 // Bytes actually read during comparisons
	confirmedFiles atomic.Int64  // Files placed into confirmed sets
	confirmedSets  atomic.Int64  // Confirmed sets
	startTime      time.Time
}

func (s *stats) String() string {
	pct := 0.0
	if s.totalBytes > 0 {
		pct = float64(s.verifiedBytes.Load()) / float64(s.totalBytes) * 100
	}
	return fmt.Sprintf("Verified %s of %s (%.0f%%, read %s), confirmed %d duplicates in %d sets in %.1fs",
		humanize.IBytes(s.verifiedBytes.Load()), humanize.IBytes(s.totalBytes), pct,
		humanize.IBytes(s.readBytes.Load()),
		s.confirmedFiles.Load(), s.confirmedSets.Load(),
		time.Since(s.startTime).Seconds())
}

// Run partitions every hash group and returns duplicate sets of size ≥2.
func (v *Verifier) Run(ctx context.Context) types.DuplicateSets {
	if v.groups.Len() == 0 {
		return types.NewDuplicateSets(nil)
	}

	var totalBytes uint64
	for _, hg := range v.groups.Items() {
		totalBytes += uint64(hg.First().Size) * uint64(hg.Len())
	}

	v.stats = &stats{totalBytes: totalBytes, startTime: time.Now()}
	v.bar = progress.NewBytes(v.showProgress, int64(totalBytes))
	v.bar.Describe(v.stats)

	var mu sync.Mutex
	var sets []types.DuplicateSet

	p := pool.New().WithMaxGoroutines(v.workers)
	for _, group := range v.groups.Items() {
		group := group // Each task partitions its own group
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			part := v.partition(group)
			if len(part) == 0 {
				return
			}
			for _, set := range part {
				v.stats.confirmedSets.Add(1)
				v.stats.confirmedFiles.Add(int64(set.Len()))
			}
			v.bar.Describe(v.stats)
			mu.Lock()
			sets = append(sets, part...)
			mu.Unlock()
		})
	}
	p.Wait()

	v.bar.Finish(v.stats)
	return types.NewDuplicateSets(sets)
}

// partition splits one hash group into classes of byte-identical files.
// Singleton classes are discarded; errored files are excluded entirely.
func (v *Verifier) partition(group types.HashGroup) []types.DuplicateSet {
	size := group.First().Size
	bufA := make([]byte, blockSize)
	bufB := make([]byte, blockSize)

	var sets []types.DuplicateSet
	unclassified := slices.Clone(group.Items())

	for len(unclassified) >= 2 {
		ref := unclassified[0]
		rest := unclassified[1:]

		rf, err := os.Open(ref.Path)
		if err != nil {
			v.sendError(fmt.Errorf("verify %s: %w", ref.Path, err))
			v.fileDone(size)
			unclassified = rest
			continue
		}

		class := []*types.FileInfo{ref}
		var next []*types.FileInfo
		refFailed := false

		for i, cand := range rest {
			eq, refErr, candErr := v.compare(rf, cand.Path, size, bufA, bufB)
			if refErr != nil {
				// Reference went bad mid-pass: members that already matched
				// stay a class; unjudged candidates return to the pool.
				v.sendError(fmt.Errorf("verify %s: %w", ref.Path, refErr))
				refFailed = true
				next = append(next, rest[i:]...)
				break
			}
			if candErr != nil {
				v.sendError(fmt.Errorf("verify %s: %w", cand.Path, candErr))
				v.fileDone(size)
				continue
			}
			if eq {
				class = append(class, cand)
			} else {
				next = append(next, cand)
			}
		}
		_ = rf.Close()

		if refFailed {
			class = class[1:]
			v.fileDone(size) // the failed reference is decided too
		}
		for range class {
			v.fileDone(size)
		}
		if len(class) >= 2 {
			sets = append(sets, types.NewDuplicateSet(class))
		}
		unclassified = next
	}

	// A leftover singleton was judged against every reference and matched none
	for range unclassified {
		v.fileDone(size)
	}

	return sets
}

// compare streams ref (rewound first) and the candidate in lockstep.
// Reference-side and candidate-side failures are reported separately so
// the caller can exclude the right file.
func (v *Verifier) compare(rf *os.File, candPath string, size int64, bufA, bufB []byte) (eq bool, refErr, candErr error) {
	if _, err := rf.Seek(0, io.SeekStart); err != nil {
		return false, err, nil
	}

	cf, err := os.Open(candPath)
	if err != nil {
		return false, nil, err
	}
	defer func() { _ = cf.Close() }()

	remaining := size
	for remaining > 0 {
		n := int64(len(bufA))
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(rf, bufA[:n]); err != nil {
			return false, err, nil
		}
		if _, err := io.ReadFull(cf, bufB[:n]); err != nil {
			return false, nil, err
		}
		v.stats.readBytes.Add(uint64(2 * n))
		if !bytes.Equal(bufA[:n], bufB[:n]) {
			return false, nil, nil
		}
		remaining -= n
	}

	return true, nil, nil
}

// fileDone records that a member's fate is decided, advancing the bar by
// one whole file.
func (v *Verifier) fileDone(size int64) {
	v.stats.verifiedBytes.Add(uint64(size))
	v.bar.Add(size)
}

// sendError sends an error to the errors channel if it's not nil.
func (v *Verifier) sendError(err error) {
	if v.errCh != nil {
		v.errCh <- err
	}
}
