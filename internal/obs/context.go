package obs

import (
	"context"
	"sync"
)

type annotationsKey struct{}

// Annotations collects request-scoped log fields set by handlers deep in the
// stack so the access log line can carry them. Values must never hold card
// data or credentials.
type Annotations struct {
	mu     sync.Mutex
	route  string
	fields map[string]string
	order  []string
}

// WithAnnotations attaches an empty annotation set to ctx unless one exists.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	if ctx == nil {
		ctx = context.Background()
	}
	if a := annotationsFrom(ctx); a != nil {
		return ctx, a
	}
	a := &Annotations{fields: map[string]string{}}
	return context.WithValue(ctx, annotationsKey{}, a), a
}

// Annotate records key=value on the request annotations. It is a no-op when
// the context was not prepared by the request logger.
func Annotate(ctx context.Context, key, value string) {
	a := annotationsFrom(ctx)
	if a == nil || key == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.fields[key]; !seen {
		a.order = append(a.order, key)
	}
	a.fields[key] = value
}

// SetRoute stores the matched router pattern.
func (a *Annotations) SetRoute(pattern string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.route = pattern
	a.mu.Unlock()
}

// Route returns the stored router pattern, if any.
func (a *Annotations) Route() string {
	if a == nil {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.route
}

// Each visits annotations in insertion order.
func (a *Annotations) Each(fn func(key, value string)) {
	if a == nil {
		return
	}
	a.mu.Lock()
	keys := append([]string(nil), a.order...)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = a.fields[k]
	}
	a.mu.Unlock()
	for i, k := range keys {
		fn(k, values[i])
	}
}

// RoutePatternFromContext returns the matched route pattern recorded for the
// request, or "".
func RoutePatternFromContext(ctx context.Context) string {
	return annotationsFrom(ctx).Route()
}

func annotationsFrom(ctx context.Context) *Annotations {
	if ctx == nil {
		return nil
	}
	a, _ := ctx.Value(annotationsKey{}).(*Annotations)
	return a
}
