// Package storage holds photo assets: immutable originals, derived (redacted)
// images and profile images. Writes replace an object atomically so a reader
// sees either the previous or the new bytes, never a partial file.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Kind partitions assets by role.
type Kind string

const (
	KindOriginal Kind = "originals"
	KindDerived  Kind = "derived"
	KindProfile  Kind = "profiles"
)

// Kinds lists every asset kind.
var Kinds = []Kind{KindOriginal, KindDerived, KindProfile}

// ErrNotFound is returned when an asset does not exist.
var ErrNotFound = errors.New("asset not found")

// ErrInvalidKey is returned for keys that could escape the storage root.
var ErrInvalidKey = errors.New("invalid asset key")

// AssetStore loads, atomically replaces and deletes assets.
type AssetStore interface {
	Load(ctx context.Context, kind Kind, key string) ([]byte, error)
	// Store replaces the asset. Concurrent readers never observe partial data.
	Store(ctx context.Context, kind Kind, key string, data []byte, contentType string) error
	// Delete removes the asset. Deleting a missing asset is not an error.
	Delete(ctx context.Context, kind Kind, key string) error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func validate(kind Kind, key string) error {
	switch kind {
	case KindOriginal, KindDerived, KindProfile:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidKey, kind)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// ContentType maps an image format name to its MIME type.
func ContentType(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	}
	return "application/octet-stream"
}
