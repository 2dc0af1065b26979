package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectReader reads stored objects
type ObjectReader interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ObjectWriter writes and removes stored objects
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}

// ObjectStore is where generated exports are kept
type ObjectStore interface {
	ObjectReader
	ObjectWriter
	HealthCheck(ctx context.Context) error
}

// PruneObjects deletes objects under prefix last modified before cutoff and
// returns how many were removed.
func PruneObjects(ctx context.Context, store ObjectStore, prefix string, cutoff time.Time) (int, error) {
	objects, err := store.ListObjects(ctx, prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, obj := range objects {
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := store.DeleteObject(ctx, obj.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
