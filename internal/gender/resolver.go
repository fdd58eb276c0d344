// internal/gender/resolver.go
package gender

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Corphon/SceneBechdel/internal/models"
	"github.com/Corphon/SceneBechdel/internal/utils"
)

// ResolverOptions bound the lookup pool.
type ResolverOptions struct {
	Workers int           // concurrent lookups
	Retries int           // extra attempts after a failed lookup
	Backoff time.Duration // delay before retry n is n*Backoff
	Timeout time.Duration // per attempt; zero means no deadline
}

// Resolver labels a whole roster, running performer lookups on a bounded
// pool of workers.
type Resolver struct {
	classifier *Classifier
	opts       ResolverOptions
	metrics    *utils.PipelineMetrics
	logger     *utils.Logger
}

func NewResolver(classifier *Classifier, opts ResolverOptions, metrics *utils.PipelineMetrics, logger *utils.Logger) *Resolver {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if metrics == nil {
		metrics = utils.NewPipelineMetrics()
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Resolver{classifier: classifier, opts: opts, metrics: metrics, logger: logger}
}

// Resolution is the outcome for one roster name.
type Resolution struct {
	Name     string
	Decision Decision
}

// Resolve labels every name of a movie's roster. When ctx is cancelled the
// lookups still outstanding are abandoned; the map then holds only the
// names resolved so far and the context error is returned alongside it.
func (r *Resolver) Resolve(ctx context.Context, movie string, names []string) (models.GenderMap, error) {
	resolutions, err := r.ResolveDetailed(ctx, movie, names)
	genders := make(models.GenderMap, len(resolutions))
	for _, res := range resolutions {
		genders[res.Name] = res.Decision.Label
	}
	return genders, err
}

// ResolveDetailed is Resolve keeping the source of every label, in roster
// order. Unresolved names are left out.
func (r *Resolver) ResolveDetailed(ctx context.Context, movie string, names []string) ([]Resolution, error) {
	// Each worker owns one slot, so no lock is needed.
	slots := make([]*Decision, len(names))

	var g errgroup.Group
	g.SetLimit(min(r.opts.Workers, max(1, len(names))))

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d, ok := r.resolveOne(ctx, movie, name)
			if ok {
				slots[i] = &d
			}
			return nil
		})
	}
	g.Wait()

	resolutions := make([]Resolution, 0, len(names))
	for i, d := range slots {
		if d != nil {
			resolutions = append(resolutions, Resolution{Name: names[i], Decision: *d})
		}
	}

	if len(resolutions) < len(names) {
		r.logger.Warn("gender resolution incomplete", map[string]interface{}{
			"movie":    movie,
			"resolved": len(resolutions),
			"roster":   len(names),
		})
		return resolutions, ctx.Err()
	}
	return resolutions, nil
}

// resolveOne looks a character up with retries and applies the decision
// chain. It reports false only when ctx was cancelled first.
func (r *Resolver) resolveOne(ctx context.Context, movie, name string) (Decision, bool) {
	lookup := r.classifier.Lookup()
	if name == "" || lookup == nil {
		return r.decide(name, nil), true
	}

	for attempt := 0; attempt <= r.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Decision{}, false
			case <-time.After(time.Duration(attempt) * r.opts.Backoff):
			}
		}

		info, err := r.lookupOnce(ctx, lookup, movie, name)
		if err == nil {
			r.metrics.RecordLookup(false, false)
			return r.decide(name, &info), true
		}
		if ctx.Err() != nil {
			return Decision{}, false
		}

		r.logger.Debug("performer lookup failed", map[string]interface{}{
			"movie":     movie,
			"character": name,
			"attempt":   attempt + 1,
			"error":     err.Error(),
		})
	}

	r.metrics.RecordLookup(true, false)
	return r.decide(name, nil), true
}

func (r *Resolver) lookupOnce(ctx context.Context, lookup PerformerLookup, movie, name string) (PerformerInfo, error) {
	if r.opts.Timeout <= 0 {
		return lookup.Lookup(ctx, movie, name)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	return lookup.Lookup(attemptCtx, movie, name)
}

func (r *Resolver) decide(name string, info *PerformerInfo) Decision {
	d := r.classifier.Decide(name, info)
	if d.Source == SourceCharacterName || d.Source == SourcePerformerName {
		r.metrics.RecordBackoff()
	}
	return d
}
