package domain

import (
	"context"
	"io"
)

// ImageStore is the side-channel that decorates markets with pictures. It has
// no effect on settlement; a missing image is reported as ErrNotFound.
type ImageStore interface {
	Put(ctx context.Context, marketID int64, data io.Reader, contentType string) error
	// Get returns the image body and its content type. The caller closes the
	// reader.
	Get(ctx context.Context, marketID int64) (io.ReadCloser, string, error)
	Delete(ctx context.Context, marketID int64) error
}
