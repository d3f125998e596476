package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"

	"sitegen/internal/model"
)

// Backend is the remote generation service as seen by the engine.
//
// OpenStream returns the raw body of a 2xx /generate/stream response; the body
// must stop delivering data once ctx is done. Implementations report non-2xx
// answers as *HTTPStatusError and connection failures as *TransportError.
type Backend interface {
	OpenStream(ctx context.Context, req model.BuildRequest) (io.ReadCloser, error)
	Refine(ctx context.Context, req model.RefineRequest) (*model.RefineResponse, error)
}

// classify maps an error coming out of a Backend call onto the engine's
// error taxonomy.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, context.Cause(ctx))
	}

	var statusErr *HTTPStatusError
	var transportErr *TransportError
	if errors.As(err, &statusErr) || errors.As(err, &transportErr) {
		return err
	}
	return &TransportError{Cause: err}
}
