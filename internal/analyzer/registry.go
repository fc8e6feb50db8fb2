package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corpusware/termstat/internal/analytics"
	"github.com/corpusware/termstat/pkg/config"
	"github.com/corpusware/termstat/pkg/kafka"
	"github.com/corpusware/termstat/pkg/metrics"
	"github.com/corpusware/termstat/pkg/tracing"
)

// Registry maps corpus names to their engines, creating them lazily as
// documents arrive.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine

	deps   engineDeps
	cfg    config.AnalyzerConfig
	logger *slog.Logger
}

// NewRegistry creates a Registry whose engines share the given store,
// producers, collector, metrics, and tracer.
func NewRegistry(st Store, statsOut, invalidate *kafka.Producer, events *analytics.Collector, m *metrics.Metrics, tracer *tracing.Tracer, cfg config.AnalyzerConfig) *Registry {
	return &Registry{
		engines: make(map[string]*Engine),
		deps: engineDeps{
			store:      st,
			statsOut:   statsOut,
			invalidate: invalidate,
			events:     events,
			metrics:    m,
			tracer:     tracer,
		},
		cfg:    cfg,
		logger: slog.Default().With("component", "analyzer-registry"),
	}
}

// Get returns the engine for a corpus, creating it on first use.
func (r *Registry) Get(name string) *Engine {
	r.mu.RLock()
	e, ok := r.engines[name]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[name]; ok {
		return e
	}
	e = newEngine(name, r.deps)
	r.engines[name] = e
	r.deps.metrics.ActiveCorpora.Set(float64(len(r.engines)))
	r.logger.Info("corpus table created", "corpus", name)
	return e
}

// Lookup returns the engine for a corpus without creating one.
func (r *Registry) Lookup(name string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// Corpora returns the known corpus names, sorted.
func (r *Registry) Corpora() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) engineList() []*Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		list = append(list, e)
	}
	return list
}

// RecomputeAll forces a recompute of every corpus, at most MaxParallel at
// a time. The first error cancels the remaining work.
func (r *Registry) RecomputeAll(ctx context.Context) error {
	return r.recompute(ctx, false)
}

// RecomputeDirty recomputes only corpora with documents added since their
// last recompute.
func (r *Registry) RecomputeDirty(ctx context.Context) error {
	return r.recompute(ctx, true)
}

func (r *Registry) recompute(ctx context.Context, onlyDirty bool) error {
	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.MaxParallel > 0 {
		g.SetLimit(r.cfg.MaxParallel)
	}
	for _, e := range r.engineList() {
		if onlyDirty && e.Pending() == 0 {
			continue
		}
		g.Go(func() error {
			_, err := e.Recompute(gctx)
			return err
		})
	}
	return g.Wait()
}

// StartRecomputeLoop launches the interval-driven recompute loop. It stops
// when ctx is cancelled; the caller runs one final RecomputeDirty during
// shutdown so documents added since the last tick are not lost.
func (r *Registry) StartRecomputeLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.RecomputeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("recompute loop stopped")
				return
			case <-ticker.C:
				if err := r.RecomputeDirty(ctx); err != nil {
					r.logger.Error("periodic recompute failed", "error", err)
				}
			}
		}
	}()
	r.logger.Info("recompute loop started",
		"interval", r.cfg.RecomputeInterval,
		"threshold", r.cfg.RecomputeThreshold,
	)
}

// Rehydrate rebuilds every corpus table from the document_terms rows
// persisted by earlier runs, so a restart does not lose corpus membership.
func (r *Registry) Rehydrate(ctx context.Context) error {
	docs, err := r.deps.store.LoadDocumentTerms(ctx)
	if err != nil {
		return fmt.Errorf("loading document terms: %w", err)
	}
	restored, skipped := 0, 0
	for _, d := range docs {
		if err := r.Get(d.Corpus).Restore(d.DocumentID, d.Terms); err != nil {
			r.logger.Warn("skipping document during rehydration",
				"doc_id", d.DocumentID,
				"corpus", d.Corpus,
				"error", err,
			)
			skipped++
			continue
		}
		restored++
	}
	r.logger.Info("rehydration complete",
		"documents", restored,
		"skipped", skipped,
		"corpora", len(r.Corpora()),
	)
	return nil
}
