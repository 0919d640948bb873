package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ivoronin/cowdup/internal/extents"
	"github.com/ivoronin/cowdup/internal/hasher"
	"github.com/ivoronin/cowdup/internal/pairer"
	"github.com/ivoronin/cowdup/internal/scanner"
	"github.com/ivoronin/cowdup/internal/screener"
	"github.com/ivoronin/cowdup/internal/verifier"
)

// scanOptions holds CLI flags for the scan.
type scanOptions struct {
	minSizeStr string
	excludes   []string
	jobs       int
	noProgress bool
	verbose    bool
}

// newRootCmd creates the root command. The tool has a single operation,
// so the root command runs the scan directly.
func newRootCmd() *cobra.Command {
	opts := &scanOptions{
		minSizeStr: "1",
		jobs:       runtime.NumCPU(),
	}

	cmd := &cobra.Command{
		Use:     "cowdup [flags] target_dir",
		Short:   "Find reflink candidates on copy-on-write filesystems",
		Version: version + " (" + commit + ")",
		Long: `Scans a directory tree for byte-identical regular files whose physical
extents are not already shared, and emits them as NUL-delimited path pairs
on stdout:

  path_a NUL path_b NUL ...

The tree is never modified; the actual reflink collapse is left to a
downstream consumer, e.g.:

  cowdup /data | xargs -0 -n2 duperemove --dedupe ...

All human-readable output (progress, per-file errors) goes to stderr.
The scan exits 0 even when individual files fail or no pairs are found.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().BoolP("version", "V", false, "Print version and exit")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", opts.jobs, "Number of hashing/verification workers")
	cmd.Flags().StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Minimum file size (e.g., 100, 1K, 10M, 1G)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log each pair decision to stderr")

	return cmd
}

// drainErrors consumes per-entry errors from the pipeline and writes them
// to stderr. Clears the progress line before printing to avoid visual
// collision.
func drainErrors(errs <-chan error) {
	for err := range errs {
		fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
	}
}

// parseMinSize parses a humanized size string ("100", "1K", "1MiB") into
// a byte count and enforces the tool's floor of one byte: a size-0 file
// can never be a meaningful reflink candidate, so a zero minimum is a
// configuration error, not a request.
func parseMinSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be at least 1 byte")
	}
	return int64(n), nil
}

// checkExcludes rejects malformed --exclude globs up front. Patterns are
// matched against basenames during the walk, where a bad pattern would
// otherwise fail silently on every entry.
func checkExcludes(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// runScan executes the pipeline: scan → screen → hash → verify → pair.
func runScan(ctx context.Context, target string, opts *scanOptions) error {
	minSize, err := parseMinSize(opts.minSizeStr)
	if err != nil {
		return fmt.Errorf("invalid --min-size: %w", err)
	}

	if err := checkExcludes(opts.excludes); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}

	if opts.jobs < 1 {
		return fmt.Errorf("invalid --jobs: must be positive")
	}

	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", target)
	}

	showProgress := !opts.noProgress

	// Create shared error channel for per-entry failures
	errors := make(chan error, 100)
	go drainErrors(errors)
	defer close(errors)

	// Phase 1: Enumerate candidate regular files
	files, err := scanner.New(target, minSize, opts.excludes, opts.jobs, showProgress, errors).Run()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	// Phase 2: Bucket by size; unique sizes never touch the disk again
	candidates := screener.New(files, showProgress).Run()
	if candidates.Len() == 0 {
		return nil
	}

	// Phase 3: Parallel XXH3-64 digest, bucket by (size, digest)
	groups := hasher.New(candidates, opts.jobs, showProgress, errors).Run(ctx)
	if groups.Len() == 0 {
		return nil
	}

	// Phase 4: Byte-exact confirmation into duplicate sets
	sets := verifier.New(groups, opts.jobs, showProgress, errors).Run(ctx)
	if sets.Len() == 0 {
		return nil
	}

	// Phase 5: Emit pairs whose physical extents are not already shared
	return pairer.New(sets, os.Stdout, extents.FileMap, opts.verbose, showProgress, errors).Run(ctx)
}
