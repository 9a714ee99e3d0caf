package coordinator

import (
	"context"

	"github.com/e7canasta/reelcore/modules/prefetch"
)

// HandleRequest describes the handle the coordinator needs.
type HandleRequest struct {
	// RequestID is unique per CreateHandle call.
	RequestID string
	ItemID    string
	Locator   string
	Purpose   Purpose
	Depth     prefetch.Depth
}

// HandleFactory creates and releases player handles.
//
// CreateHandle must not block on the handle being ready. done may be called
// inline or later from any goroutine; only the first call counts. A factory
// that never calls done leaves the item without a handle.
//
// ReleaseHandle is called exactly once for every handle passed to done with a
// nil error.
type HandleFactory interface {
	CreateHandle(ctx context.Context, req HandleRequest, done func(Handle, error))
	ReleaseHandle(h Handle)
}
