package embed

import (
	"context"
	"sync"
	"sync/atomic"
)

// Lazy owns a shared Embedder and constructs it on first use. Construction
// runs at most once even under concurrent callers.
type Lazy struct {
	once   sync.Once
	build  func() (Embedder, error)
	loaded atomic.Bool

	emb Embedder
	err error
}

// NewLazy returns a Lazy that builds New(cfg) on first use.
func NewLazy(cfg Config) *Lazy {
	return NewLazyFunc(func() (Embedder, error) { return New(cfg), nil })
}

// NewLazyFunc returns a Lazy around an arbitrary constructor.
// A constructor error is sticky: every later call returns it.
func NewLazyFunc(build func() (Embedder, error)) *Lazy {
	return &Lazy{build: build}
}

// Get returns the shared embedder, building it if needed.
func (l *Lazy) Get() (Embedder, error) {
	l.once.Do(func() {
		l.emb, l.err = l.build()
		l.loaded.Store(true)
	})
	return l.emb, l.err
}

// Loaded reports whether construction has already happened.
func (l *Lazy) Loaded() bool { return l.loaded.Load() }

func (l *Lazy) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := l.Get()
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

func (l *Lazy) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := l.Get()
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts)
}

func (l *Lazy) Dimension() int {
	e, err := l.Get()
	if err != nil {
		return 0
	}
	return e.Dimension()
}

func (l *Lazy) Model() string {
	e, err := l.Get()
	if err != nil {
		return ""
	}
	return e.Model()
}
