// Package screener screens scanned files to find duplicate candidates.
//
// # Overview
//
// The screener is the first filtering stage in the duplicate detection
// pipeline. It groups files by size and discards sizes seen only once,
// producing candidate groups for the expensive stages (hashing and
// byte-exact comparison).
//
// Grouping is exact only when every size is known, so the screener
// materializes the full scan result before yielding anything. This is the
// single most important cost saver: in a typical tree most files have a
// unique size and never touch the disk again.
//
// # Processing Pipeline
//
//	Input: []*types.FileInfo (all scanned files)
//	    │
//	    ├──► Group by file size
//	    │
//	    ├──► Filter: keep groups with 2+ members
//	    │
//	    └──► Output: types.CandidateGroups
//
// No I/O required - uses metadata from the scanner. Single-threaded.
package screener

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/cowdup/internal/progress"
	"github.com/ivoronin/cowdup/internal/types"
)

// Screener screens files by size to find potential duplicates.
//
// The screener is designed for single-use: create with New(), call Run() once.
type Screener struct {
	files        []*types.FileInfo // Files to screen for duplicates
	showProgress bool              // Whether to display progress indicator
}

// New creates a Screener for finding duplicate candidates.
func New(files []*types.FileInfo, showProgress bool) *Screener {
	return &Screener{
		files:        files,
		showProgress: showProgress,
	}
}

// stats tracks screening progress.
type stats struct {
	candidateFiles int
	candidateBytes int64
	startTime      time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Selected %d candidates (%s) in %.1fs",
		s.candidateFiles, humanize.IBytes(uint64(s.candidateBytes)),
		time.Since(s.startTime).Seconds())
}

// Run screens files and returns candidate duplicate groups.
//
// Files with a unique size cannot have a duplicate and are dropped here;
// they are never opened, hashed, or compared.
func (s *Screener) Run() types.CandidateGroups {
	bar := progress.NewSpinner(s.showProgress)
	st := &stats{startTime: time.Now()}

	// Group files by size
	bySize := make(map[int64][]*types.FileInfo)
	for _, f := range s.files {
		bySize[f.Size] = append(bySize[f.Size], f)
	}

	// Keep only sizes with 2+ members
	var result []types.CandidateGroup
	for _, files := range bySize {
		if len(files) >= 2 {
			result = append(result, types.NewCandidateGroup(files))
		}
	}

	for _, group := range result {
		st.candidateFiles += group.Len()
		st.candidateBytes += group.First().Size * int64(group.Len())
	}

	bar.Finish(st)

	return types.NewCandidateGroups(result)
}
