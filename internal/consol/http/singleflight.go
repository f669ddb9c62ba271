package http

import (
	"context"

	"golang.org/x/sync/singleflight"
)

var summaryGroup singleflight.Group

// singleflightBuild collapses concurrent builds of the same key. The third
// result reports whether the value was shared with another caller.
func singleflightBuild(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error, bool) {
	resultChan := summaryGroup.DoChan(key, func() (interface{}, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}
