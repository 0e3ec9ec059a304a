package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/content-migrator/internal/convert"
	"github.com/chirino/content-migrator/internal/model"
	"github.com/chirino/content-migrator/internal/monitoring"
	registrycache "github.com/chirino/content-migrator/internal/registry/cache"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/chirino/content-migrator/internal/scope"
	"golang.org/x/sync/errgroup"
)

// RunRequest describes one conversion run.
type RunRequest struct {
	Kinds       []model.SourceKind
	Filter      scope.ParentFilter
	PageSize    int
	Concurrency int
	Options     convert.Options
	// DryRun walks the scope and counts eligible records without converting.
	DryRun bool
}

func (r RunRequest) validate() error {
	if r.PageSize <= 0 {
		return &scope.SelectionError{Value: fmt.Sprint(r.PageSize), Err: errors.New("page size must be positive")}
	}
	if len(r.Kinds) == 0 {
		return &scope.SelectionError{Value: "", Err: errors.New("at least one kind is required")}
	}
	for _, kind := range r.Kinds {
		if kind != model.SourceKindFile && kind != model.SourceKindNote {
			return &scope.SelectionError{Value: string(kind), Err: errors.New("unknown kind")}
		}
	}
	return r.Options.Validate()
}

// KindSummary aggregates the page reports of one kind.
type KindSummary struct {
	Kind        model.SourceKind `json:"kind"`
	Pages       int              `json:"pages"`
	FailedPages int              `json:"failedPages"`
	Selected    int              `json:"selected"`
	Converted   int              `json:"converted"`
	Linked      int              `json:"linked"`
	Deleted     int              `json:"deleted"`
	Skipped     int              `json:"skipped"`
	Failed      int              `json:"failed"`
}

// RunSummary is safe for concurrent use while a run is in progress.
type RunSummary struct {
	mu     sync.Mutex
	DryRun bool
	kinds  map[model.SourceKind]*KindSummary
	order  []model.SourceKind
}

func newRunSummary(kinds []model.SourceKind, dryRun bool) *RunSummary {
	s := &RunSummary{DryRun: dryRun, kinds: map[model.SourceKind]*KindSummary{}}
	for _, kind := range kinds {
		if _, ok := s.kinds[kind]; ok {
			continue
		}
		s.kinds[kind] = &KindSummary{Kind: kind}
		s.order = append(s.order, kind)
	}
	return s
}

// Kinds returns a snapshot per kind in request order.
func (s *RunSummary) Kinds() []KindSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]KindSummary, len(s.order))
	for i, kind := range s.order {
		out[i] = *s.kinds[kind]
	}
	return out
}

// Kind returns the snapshot for kind.
func (s *RunSummary) Kind(kind model.SourceKind) KindSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.kinds[kind]; ok {
		return *k
	}
	return KindSummary{Kind: kind}
}

func (s *RunSummary) addSelected(kind model.SourceKind, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.kinds[kind]
	k.Pages++
	k.Selected += n
}

func (s *RunSummary) merge(kind model.SourceKind, report *convert.PageReport, pageErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.kinds[kind]
	if pageErr != nil {
		k.FailedPages++
	}
	if report == nil {
		return
	}
	k.Converted += report.Converted()
	k.Linked += report.Linked()
	k.Deleted += report.Deleted()
	k.Skipped += report.Skipped()
	for _, o := range report.Records {
		if o.Stage == convert.StageFailed {
			k.Failed++
		}
	}
}

// Runner is the page iterator: it reads pages from the scope cursor and hands
// them to the engine with bounded concurrency.
type Runner struct {
	selector *scope.Selector
	engine   *convert.Engine
}

func NewRunner(store registrystore.RecordStore, cache registrycache.ProvenanceCache) *Runner {
	return &Runner{
		selector: scope.NewSelector(store),
		engine:   convert.NewEngine(store, cache),
	}
}

// Run converts every requested kind. A failed page does not stop the run; all
// page errors are returned joined once every kind finished. Cancelling ctx
// stops new pages from being scheduled while pages in flight complete.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunSummary, error) {
	return r.RunWithProgress(ctx, req, nil)
}

// RunWithProgress is Run, handing the live summary to started before the
// first page so callers can report progress.
func (r *Runner) RunWithProgress(ctx context.Context, req RunRequest, started func(*RunSummary)) (*RunSummary, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Concurrency <= 0 {
		req.Concurrency = 1
	}

	summary := newRunSummary(req.Kinds, req.DryRun)
	if started != nil {
		started(summary)
	}
	var errs []error
	for _, kind := range summary.order {
		if ctx.Err() != nil {
			break
		}
		log.Info("Converting records", "kind", kind, "scope", req.Filter, "pageSize", req.PageSize, "concurrency", req.Concurrency, "dryRun", req.DryRun)
		if err := r.runKind(ctx, req, kind, summary); err != nil {
			errs = append(errs, err)
		}
		k := summary.Kind(kind)
		log.Info("Finished converting records", "kind", kind, "pages", k.Pages, "selected", k.Selected,
			"converted", k.Converted, "linked", k.Linked, "deleted", k.Deleted, "skipped", k.Skipped,
			"failed", k.Failed, "failedPages", k.FailedPages)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, fmt.Errorf("run interrupted: %w", err))
	}
	return summary, errors.Join(errs...)
}

func (r *Runner) runKind(ctx context.Context, req RunRequest, kind model.SourceKind, summary *RunSummary) error {
	cursor := r.selector.Open(kind, req.Filter, req.PageSize)

	var g errgroup.Group
	g.SetLimit(req.Concurrency)

	var mu sync.Mutex
	var pageErrs []error
	pageNum := 0
	for ctx.Err() == nil && !cursor.Done() {
		page, err := cursor.Next(ctx)
		if err != nil {
			log.Error("Reading scope failed", "kind", kind, "err", err)
			mu.Lock()
			pageErrs = append(pageErrs, err)
			mu.Unlock()
			break
		}
		if len(page) == 0 {
			continue
		}
		pageNum++
		summary.addSelected(kind, len(page))
		if req.DryRun {
			log.Debug("Dry run page", "kind", kind, "page", pageNum, "records", len(page))
			continue
		}

		n, records := pageNum, page
		g.Go(func() error {
			// A started page always runs to completion.
			if err := r.convertPage(context.WithoutCancel(ctx), req.Options, kind, n, records, summary); err != nil {
				mu.Lock()
				pageErrs = append(pageErrs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(pageErrs...)
}

func (r *Runner) convertPage(ctx context.Context, opts convert.Options, kind model.SourceKind, pageNum int, page []model.SourceRecord, summary *RunSummary) error {
	start := time.Now()
	report, err := r.engine.Convert(ctx, opts, kind, page)
	summary.merge(kind, report, err)

	status := "ok"
	if err != nil {
		status = "failed"
	}
	monitoring.RecordPage(string(kind), status, time.Since(start))
	if report != nil {
		counts := map[convert.Stage]int{}
		for _, o := range report.Records {
			counts[o.Stage]++
		}
		for stage, n := range counts {
			monitoring.RecordRecords(string(kind), string(stage), n)
		}
	}

	if err != nil {
		log.Error("Page conversion failed", "kind", kind, "page", pageNum, "records", len(page), "err", err)
		return fmt.Errorf("%s page %d: %w", kind, pageNum, err)
	}
	log.Info("Converted page", "kind", kind, "page", pageNum, "records", len(page),
		"converted", report.Converted(), "linked", report.Linked(), "deleted", report.Deleted(),
		"skipped", report.Skipped(), "failures", len(report.Failures()), "elapsed", time.Since(start))
	return nil
}
