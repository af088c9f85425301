// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Redaction constants
const (
	// DefaultBlurSigma is the Gaussian blur strength applied to hidden faces
	DefaultBlurSigma = 20.0

	// MinBlurSigma is the weakest blur accepted; anything lower leaves faces recognisable
	MinBlurSigma = 8.0

	// DefaultJPEGQuality is used when re-encoding JPEG originals
	DefaultJPEGQuality = 92
)

// Processing constants
const (
	// WorkerPoolSize is the default number of photos regenerated in parallel
	WorkerPoolSize = 4

	// DefaultLockTTL is the lease of the distributed per-photo lock
	DefaultLockTTL = 2 * time.Minute

	// LockRetryInterval is how often a blocked lock acquisition is retried
	LockRetryInterval = 50 * time.Millisecond
)

// Detector constants
const (
	// WarmupImageSize is the edge length of the blank frame sent at start-up
	WarmupImageSize = 64
)
