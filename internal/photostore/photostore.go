package photostore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get and Delete when no photo has the given key.
var ErrNotFound = errors.New("photo not found")

// PhotoStore holds the uploaded site photographs.
type PhotoStore interface {
	Save(ctx context.Context, prefix, mimeType string, r io.Reader) (storageKey string, err error)
	Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, storageKey string) error
}

// Ext returns the file extension used for a stored photo of mimeType.
func Ext(mimeType string) string {
	if mimeType == "image/png" {
		return ".png"
	}
	return ".jpg"
}

// MimeTypeForKey is the inverse of Ext for a storage key.
func MimeTypeForKey(key string) string {
	n := len(key)
	if n >= 4 && (key[n-4:] == ".png" || key[n-4:] == ".PNG") {
		return "image/png"
	}
	return "image/jpeg"
}
