// Package merge groups multi-page image files by base name and triggers an
// ordered merge into one output document.
//
// Pages follow the shape base_<n>.ext. Once a page settles, the trigger
// gathers every page with the same base from the watch folder, sorts them by
// numeric suffix, hands the ordered list to the external Merger, and deletes
// the consumed sources. A per-base idempotency set spanning the process
// lifetime guarantees a group merges at most once per run; filenames
// carrying the processed marker are excluded from grouping so finalized
// output never re-enters a group.
package merge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"conveyor/internal/config"
	"conveyor/internal/fileutil"
	"conveyor/internal/logging"
)

// ProcessedMarker excludes already-finalized files from page grouping.
const ProcessedMarker = "_merged"

var pageName = regexp.MustCompile(`^(.+)_(\d+)\.([^.]+)$`)

type page struct {
	path  string
	index int
}

// Trigger coordinates page grouping and merge invocation for one folder.
type Trigger struct {
	watchDir  string
	outputDir string
	merger    Merger
	retry     fileutil.RetryPolicy
	logger    *slog.Logger

	mu     sync.Mutex
	merged map[string]struct{}
}

// NewTrigger builds a merge trigger from configuration. outputDir falls back
// to the watch folder when unset.
func NewTrigger(cfg *config.Config, merger Merger, logger *slog.Logger) *Trigger {
	outputDir := cfg.Merge.OutputDir
	if outputDir == "" {
		outputDir = cfg.Merge.WatchDir
	}
	return &Trigger{
		watchDir:  cfg.Merge.WatchDir,
		outputDir: outputDir,
		merger:    merger,
		retry:     fileutil.DefaultRetry,
		logger:    logging.NewComponentLogger(logger, "merge"),
	}
}

// pageBase extracts the group base name from a page filename. Names carrying
// the processed marker or not matching the page shape report ok=false.
func pageBase(name string) (string, bool) {
	if strings.Contains(name, ProcessedMarker) {
		return "", false
	}
	match := pageName.FindStringSubmatch(name)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// HandleStable processes one settled file. Non-page files are ignored. The
// returned output path is empty when nothing was merged; zero remaining
// pages at merge time is a silent no-op, not an error.
func (t *Trigger) HandleStable(ctx context.Context, path string) (string, int, error) {
	base, ok := pageBase(filepath.Base(path))
	if !ok {
		return "", 0, nil
	}

	t.mu.Lock()
	if t.merged == nil {
		t.merged = make(map[string]struct{})
	}
	if _, done := t.merged[base]; done {
		t.mu.Unlock()
		t.logger.Debug("group already merged this run", logging.String("base", base))
		return "", 0, nil
	}
	t.merged[base] = struct{}{}
	t.mu.Unlock()

	pages := t.collectPages(base)
	if len(pages) == 0 {
		t.logger.Info("no pages remain at merge time", logging.String("base", base))
		return "", 0, nil
	}

	ordered := make([]string, len(pages))
	for i, p := range pages {
		ordered[i] = p.path
	}
	outputPath := filepath.Join(t.outputDir, base+ProcessedMarker+".pdf")

	if err := t.merger.Merge(ctx, ordered, outputPath); err != nil {
		return "", 0, err
	}

	for _, p := range ordered {
		if err := fileutil.Remove(p, t.retry); err != nil {
			t.logger.Warn("failed to delete consumed page", logging.Path(p), logging.Error(err))
		}
	}
	t.logger.Info("group merged",
		logging.String("base", base),
		logging.Int("pages", len(ordered)),
		logging.Path(outputPath))
	return outputPath, len(ordered), nil
}

// collectPages enumerates the watch folder for the group's pages in
// ascending numeric-suffix order, regardless of arrival order.
func (t *Trigger) collectPages(base string) []page {
	entries, err := os.ReadDir(t.watchDir)
	if err != nil {
		t.logger.Warn("merge folder unreadable", logging.Path(t.watchDir), logging.Error(err))
		return nil
	}

	var pages []page
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.Contains(name, ProcessedMarker) {
			continue
		}
		match := pageName.FindStringSubmatch(name)
		if match == nil || match[1] != base {
			continue
		}
		index, err := strconv.Atoi(match[2])
		if err != nil {
			continue
		}
		pages = append(pages, page{path: filepath.Join(t.watchDir, name), index: index})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].index < pages[j].index })
	return pages
}
