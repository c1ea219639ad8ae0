package orchestration

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many independent operations of one build-out
// run at the same time.
const DefaultConcurrency = 4

type buildConfig struct {
	passDatastructure bool
	skipBase          bool
	concurrency       int
	logger            *zap.Logger
}

// BuildOption configures a BuildOut call.
type BuildOption func(*buildConfig)

// PassDatastructure controls whether operations receive the full evolving
// document (true, the default) or only the registry's identity fields.
func PassDatastructure(pass bool) BuildOption {
	return func(c *buildConfig) {
		c.passDatastructure = pass
	}
}

// SkipBase skips the Base operation. Used when the start document already
// carries every base field, as in bulk enumeration.
func SkipBase() BuildOption {
	return func(c *buildConfig) {
		c.skipBase = true
	}
}

// WithConcurrency bounds parallel operations within one dependency level.
// Values below 1 run operations one at a time.
func WithConcurrency(n int) BuildOption {
	return func(c *buildConfig) {
		if n < 1 {
			n = 1
		}
		c.concurrency = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) BuildOption {
	return func(c *buildConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// BuildOut runs Base, then every operation selected by requested together
// with its prerequisites, and merges each result under its key.
//
// Undeclared bits in requested are ignored. The first operation error aborts
// the build-out and is returned unchanged; no partial document is returned.
// Keys of startWith that name an operation key in another style are moved
// onto that key. startWith may be mutated and returned.
func (r *Registry[C]) BuildOut(ctx context.Context, requested Flag, startWith Document, conn *C, opts ...BuildOption) (Document, error) {
	cfg := buildConfig{
		passDatastructure: true,
		concurrency:       DefaultConcurrency,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	doc := startWith
	if doc == nil {
		doc = Document{}
	}
	r.canonicalize(doc)

	if !cfg.skipBase {
		if r.base == nil {
			return nil, ErrConfiguration("no base operation registered")
		}
		out, err := r.base(ctx, doc, conn)
		if err != nil {
			return nil, err
		}
		doc = out
		if doc == nil {
			doc = Document{}
		}
	}

	selected := r.Resolve(requested)
	cfg.logger.Debug("resolved build-out",
		zap.String("requested", r.flags.Format(requested)),
		zap.String("selected", r.flags.Format(selected)),
		zap.Bool("base", !cfg.skipBase),
	)

	for depth, level := range r.levels(selected) {
		input := doc
		if !cfg.passDatastructure {
			var err error
			if input, err = r.identify(doc); err != nil {
				return nil, err
			}
		}

		results := make([]any, len(level))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.concurrency)
		for i, op := range level {
			g.Go(func() error {
				cfg.logger.Debug("running operation", zap.String("key", op.Key), zap.Int("level", depth))
				res, err := op.Fn(gctx, input, conn)
				if err != nil {
					cfg.logger.Debug("operation failed", zap.String("key", op.Key), zap.Error(err))
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for i, op := range level {
			doc[op.Key] = results[i]
		}
	}

	return doc, nil
}

// identify projects doc onto the registry's identity fields.
func (r *Registry[C]) identify(doc Document) (Document, error) {
	if len(r.identity) == 0 {
		return nil, ErrConfiguration("registry has no identity fields")
	}
	out := make(Document, len(r.identity))
	for _, field := range r.identity {
		v, ok := doc[field]
		if !ok || v == nil || v == "" {
			return nil, ErrMissingField(field)
		}
		out[field] = v
	}
	return out, nil
}
