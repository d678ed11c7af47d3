package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Ref         string
	Size        int64
	ContentType string
}

// BlobStore is the content-addressable file collaborator. Job input
// refs and result refs are object keys in this store.
type BlobStore interface {
	Put(ctx context.Context, ref string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, ref string) (io.ReadCloser, *ObjectInfo, error)
	Stat(ctx context.Context, ref string) (*ObjectInfo, error)
	Remove(ctx context.Context, ref string) error
}
