// Package progress renders the pipeline's live stderr indicator.
//
// Two shapes match the pipeline's phases: a determinate byte bar for
// hashing and verification, whose totals are known the moment the
// preceding bucketing stage has materialized, and an indeterminate
// spinner for the phases that finish too fast or too unpredictably to
// meter (walking, bucketing, extent checks).
//
// Rendering is throttled and goes to stderr only; the pair stream on
// stdout never sees a byte of it, and a slow or redirected terminal
// cannot block pipeline workers.
package progress

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

const renderInterval = 100 * time.Millisecond

// Bar is the pipeline-facing handle. A disabled Bar is valid and turns
// every method into a no-op, so stages never branch on visibility.
type Bar struct {
	bar *progressbar.ProgressBar
}

// NewSpinner creates an indeterminate indicator for a phase with no
// meaningful completion fraction.
func NewSpinner(enabled bool) *Bar {
	if !enabled {
		return &Bar{}
	}
	opts := append(baseOptions(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(false),
	)
	return &Bar{bar: progressbar.NewOptions(-1, opts...)}
}

// NewBytes creates a determinate bar over a known byte total, advanced
// with Add as workers make progress.
func NewBytes(enabled bool, total int64) *Bar {
	if !enabled {
		return &Bar{}
	}
	opts := append(baseOptions(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
	)
	return &Bar{bar: progressbar.NewOptions64(total, opts...)}
}

// baseOptions are shared by both shapes: stderr-only, throttled, and
// cleared once the phase's final stats line replaces the bar.
func baseOptions() []progressbar.Option {
	return []progressbar.Option{
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(renderInterval),
		progressbar.OptionClearOnFinish(),
	}
}

// Add advances a byte bar by n. Safe from any worker goroutine.
func (b *Bar) Add(n int64) {
	if b.bar != nil {
		_ = b.bar.Add64(n)
	}
}

// Describe replaces the bar's caption with the stage's current stats.
func (b *Bar) Describe(s fmt.Stringer) {
	if b.bar != nil {
		b.bar.Describe(s.String())
	}
}

// Finish clears the bar and leaves the stage's final stats line behind.
func (b *Bar) Finish(s fmt.Stringer) {
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(os.Stderr, "✔ "+s.String())
	}
}
