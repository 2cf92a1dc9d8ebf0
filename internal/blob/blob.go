// Package blob persists uploaded asset bytes and hands back stable URLs.
package blob

import (
	"context"
	"io"
)

// Store is where asset bytes live. Implementations return the URL under
// which the stored object is reachable.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
}
