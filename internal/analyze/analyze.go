// Package analyze turns source files into analyzed SourceUnits.
package analyze

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/codeheal/internal/discover"
	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/parse"
	"github.com/phobologic/codeheal/internal/phase"
	"github.com/phobologic/codeheal/internal/score"
)

// Options configures an Analyzer.
type Options struct {
	Parse parse.Options
	// CacheSize bounds the number of distinct file contents remembered.
	CacheSize int
	// Workers bounds concurrent file analysis. Zero uses GOMAXPROCS.
	Workers int
}

// DefaultOptions returns a 512-entry cache and one worker per CPU.
func DefaultOptions() Options {
	return Options{Parse: parse.DefaultOptions(), CacheSize: 512}
}

type entry struct {
	module    model.ModuleInfo
	functions []model.FunctionUnit
}

// Analyzer parses and inspects source. It is safe for concurrent use.
type Analyzer struct {
	pool  *parse.Pool
	opts  Options
	cache *lru.Cache[[sha256.Size]byte, entry]
	log   logrus.FieldLogger
}

// New creates an analyzer backed by pool.
func New(pool *parse.Pool, opts Options, log logrus.FieldLogger) (*Analyzer, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[[sha256.Size]byte, entry](size)
	if err != nil {
		return nil, fmt.Errorf("creating analysis cache: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Analyzer{pool: pool, opts: opts, cache: cache, log: log}, nil
}

// Pool returns the parser pool shared with the healers and applier.
func (a *Analyzer) Pool() *parse.Pool {
	return a.pool
}

// AnalyzeSource analyzes in-memory source. A syntax error returns a
// *parse.Error carrying path.
func (a *Analyzer) AnalyzeSource(ctx context.Context, path string, source []byte) (*model.SourceUnit, error) {
	su := &model.SourceUnit{Path: path, Source: source}
	if len(source) == 0 {
		return su, nil
	}

	key := sha256.Sum256(source)
	if e, ok := a.cache.Get(key); ok {
		su.Module, su.Functions = e.module, e.functions
		return su, nil
	}

	tree, err := a.pool.Parse(ctx, source)
	if err != nil {
		var perr *parse.Error
		if errors.As(err, &perr) {
			perr.Path = path
		}
		return nil, err
	}
	defer tree.Close()

	su.Module = parse.ExtractModule(tree, source)
	su.Functions, err = parse.ExtractFunctions(a.pool.Language(), tree, source, su.Module, a.opts.Parse)
	if err != nil {
		return nil, fmt.Errorf("%s: extracting functions: %w", path, err)
	}
	a.cache.Add(key, entry{module: su.Module, functions: su.Functions})
	return su, nil
}

// AnalyzeFile reads and analyzes the file at dir/rel. The unit's Path is rel.
func (a *Analyzer) AnalyzeFile(ctx context.Context, dir, rel string) (*model.SourceUnit, error) {
	source, err := os.ReadFile(filepath.Join(dir, rel))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	return a.AnalyzeSource(ctx, rel, source)
}

// ScanResult is the outcome of analyzing a set of files.
type ScanResult struct {
	Sources  []*model.SourceUnit
	Failures []model.FileFailure
}

// Profiles scores every analyzed file. Files without functions contribute
// nothing to aggregation and are omitted.
func (r *ScanResult) Profiles(c phase.Classifier) []model.FileProfile {
	var out []model.FileProfile
	for _, su := range r.Sources {
		if len(su.Functions) == 0 {
			continue
		}
		out = append(out, c.File(su.Path, score.Units(su.Functions, c.Scoring)))
	}
	return out
}

// Scan analyzes files concurrently. Files that cannot be read or parsed
// are recorded as failures; only context cancellation aborts the scan.
func (a *Analyzer) Scan(ctx context.Context, dir string, files []discover.FileEntry) (*ScanResult, error) {
	workers := a.opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var (
		mu  sync.Mutex
		res ScanResult
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			su, err := a.AnalyzeFile(ctx, dir, f.Path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.log.WithFields(logrus.Fields{"path": f.Path}).WithError(err).Warn("skipping unanalyzable file")
				res.Failures = append(res.Failures, model.FileFailure{
					Path:    f.Path,
					Kind:    model.ParseFailure,
					Message: err.Error(),
					Fatal:   true,
				})
				return nil
			}
			res.Sources = append(res.Sources, su)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(res.Sources, func(i, j int) bool { return res.Sources[i].Path < res.Sources[j].Path })
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Path < res.Failures[j].Path })
	return &res, nil
}
