// Package inflight coalesces concurrent requests for the same key into a
// single execution.
package inflight

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group deduplicates concurrent calls keyed by string. Results are not
// retained: once the shared call settles, the next caller for the key starts
// a fresh execution.
type Group[V any] struct {
	g singleflight.Group

	// OnSuccess, when set, runs once for every successful execution after the
	// key has been released, whether or not the caller that started it is
	// still waiting.
	OnSuccess func(ctx context.Context, key string, v V)
}

// Do runs fn once per key among concurrent callers and hands every caller the
// same outcome. leader reports whether this caller's fn was the one executed.
//
// fn runs detached from the leader's cancellation so that one caller going
// away does not fail the others. A caller whose ctx ends stops waiting and
// gets ctx's error; the execution continues for the rest.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, bool, error) {
	// Written by the executing goroutine before the result is delivered on ch.
	executed := false
	ch := g.g.DoChan(key, func() (any, error) {
		executed = true
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		v := valueOf[V](res)
		if executed && res.Err == nil {
			g.settle(ctx, key, v)
		}
		return v, executed, res.Err
	case <-ctx.Done():
		if g.OnSuccess != nil {
			// ch is buffered, so this receive completes once the call settles
			go func() {
				res := <-ch
				if executed && res.Err == nil {
					g.settle(context.WithoutCancel(ctx), key, valueOf[V](res))
				}
			}()
		}
		var zero V
		return zero, false, ctx.Err()
	}
}

// Forget drops key so the next call starts a new execution even if one is
// still running.
func (g *Group[V]) Forget(key string) {
	g.g.Forget(key)
}

func (g *Group[V]) settle(ctx context.Context, key string, v V) {
	if g.OnSuccess != nil {
		g.OnSuccess(ctx, key, v)
	}
}

func valueOf[V any](res singleflight.Result) V {
	var v V
	if res.Val != nil {
		v = res.Val.(V)
	}
	return v
}
