// Package pairer emits reflink-candidate path pairs from confirmed
// duplicate sets.
//
// # Overview
//
// The pairer is the final stage in the pipeline. It takes sets of
// byte-identical files, fetches each member's physical extent map, and
// emits every unordered pair within a set whose extent sets are not
// already equal - pairs the downstream reflink tool can still collapse.
//
// # Processing Pipeline
//
//	Input: types.DuplicateSets (confirmed byte-identical sets)
//	    │
//	    ├──► For each DuplicateSet:
//	    │        │
//	    │        ├──► Map each member's extents (failures logged, member omitted)
//	    │        │
//	    │        └──► For each pair (i, j), i < j:
//	    │                 │
//	    │                 ├──► Extent sets equal → already fully reflinked, skip
//	    │                 │
//	    │                 └──► Otherwise → write "pathA\0pathB\0" to stdout
//	    │
//	    └──► Output: NUL-delimited pair stream + stats
//
// # Emission Policy
//
// Every not-fully-shared combination is emitted; no canonical
// representative is chosen. The downstream tool stays in control of which
// member of a pair to keep. Pair order is unspecified within the contract;
// consumers must treat the output as a set.
//
// The pairer never mutates the tree. Sequential processing: the extent
// ioctl is cheap next to the hashing and comparison phases, and one open
// file at a time keeps the fd footprint flat.
package pairer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/cowdup/internal/extents"
	"github.com/ivoronin/cowdup/internal/progress"
	"github.com/ivoronin/cowdup/internal/types"
)

// MapFunc fetches a file's coalesced physical extent set.
// Production wiring passes extents.FileMap; tests substitute fakes.
type MapFunc func(path string) ([]extents.Interval, error)

// Pairer emits reflink-candidate pairs for confirmed duplicate sets.
//
// The pairer is designed for single-use: create with New(), call Run() once.
type Pairer struct {
	// Config (immutable, set by New)
	sets         types.DuplicateSets // Confirmed duplicate sets to examine
	out          io.Writer           // Pair stream destination (stdout)
	mapFile      MapFunc             // Extent map source
	verbose      bool                // Log each pair decision to stderr
	showProgress bool                // Whether to display progress indicator
	errCh        chan error          // Non-fatal errors (extent map failures)
}

// New creates a Pairer writing NUL-delimited pairs to out.
func New(sets types.DuplicateSets, out io.Writer, mapFile MapFunc, verbose, showProgress bool, errCh chan error) *Pairer {
	return &Pairer{
		sets:         sets,
		out:          out,
		mapFile:      mapFile,
		verbose:      verbose,
		showProgress: showProgress,
		errCh:        errCh,
	}
}

// stats tracks pairing progress.
type stats struct {
	totalSets      int
	processedSets  int
	emittedPairs   int
	sharedPairs    int // Pairs refused because extents are already equal
	shareableBytes int64
	startTime      time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Examined %d/%d sets, emitted %d pairs (%d already shared, up to %s reclaimable) in %.1fs",
		s.processedSets, s.totalSets,
		s.emittedPairs, s.sharedPairs,
		humanize.IBytes(uint64(s.shareableBytes)),
		time.Since(s.startTime).Seconds())
}

// member is a set member with its successfully fetched extent set.
type member struct {
	file *types.FileInfo
	ext  []extents.Interval
}

// Run examines every duplicate set and streams candidate pairs.
//
// The returned error is fatal only: it reports a failure to write the
// pair stream itself. Extent-map failures are per-file: the member is
// logged and omitted, and the rest of its set is still paired.
func (p *Pairer) Run(ctx context.Context) error {
	bar := progress.NewSpinner(p.showProgress)
	st := &stats{totalSets: p.sets.Len(), startTime: time.Now()}
	bar.Describe(st)

	bw := bufio.NewWriter(p.out)

	for _, set := range p.sets.Items() {
		if ctx.Err() != nil {
			break
		}

		members := p.mapMembers(set)
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				a, b := members[i], members[j]
				if extents.Equal(a.ext, b.ext) {
					st.sharedPairs++
					p.logDecision("already shared: %s == %s", a.file.Path, b.file.Path)
					continue
				}
				if err := writePair(bw, a.file.Path, b.file.Path); err != nil {
					return fmt.Errorf("write pair: %w", err)
				}
				st.emittedPairs++
				st.shareableBytes += a.file.Size
				p.logDecision("candidate pair: %s <> %s", a.file.Path, b.file.Path)
			}
		}

		st.processedSets++
		bar.Describe(st)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush pairs: %w", err)
	}

	bar.Finish(st)
	return nil
}

// mapMembers fetches extent sets for every member of a set.
// Members whose map call fails are logged and dropped; the survivors are
// still paired among themselves.
func (p *Pairer) mapMembers(set types.DuplicateSet) []member {
	members := make([]member, 0, set.Len())
	for _, f := range set.Items() {
		ext, err := p.mapFile(f.Path)
		if err != nil {
			p.sendError(fmt.Errorf("extent map %s: %w", f.Path, err))
			continue
		}
		members = append(members, member{file: f, ext: ext})
	}
	return members
}

// writePair frames one pair: pathA NUL pathB NUL. Nothing else ever
// reaches the pair stream.
func writePair(bw *bufio.Writer, a, b string) error {
	if _, err := bw.WriteString(a); err != nil {
		return err
	}
	if err := bw.WriteByte(0); err != nil {
		return err
	}
	if _, err := bw.WriteString(b); err != nil {
		return err
	}
	return bw.WriteByte(0)
}

// logDecision prints a per-pair decision to stderr in verbose mode.
// Clears the progress line first to avoid visual collision.
func (p *Pairer) logDecision(format string, a, b string) {
	if !p.verbose {
		return
	}
	fmt.Fprintf(os.Stderr, "\r\033[K"+format+"\n", escapePath(a), escapePath(b))
}

// escapePath escapes tabs, newlines and carriage returns in paths for
// terminal output; other control characters pass through unchanged.
// The pair stream itself is never escaped - NUL framing carries raw paths.
func escapePath(path string) string {
	r := strings.NewReplacer(
		"\t", "\\t",
		"\n", "\\n",
		"\r", "\\r",
	)
	return r.Replace(path)
}

// sendError sends an error to the errors channel if it's not nil.
func (p *Pairer) sendError(err error) {
	if p.errCh != nil {
		p.errCh <- err
	}
}
