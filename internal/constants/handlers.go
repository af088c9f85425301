package constants

// Handler constants
const (
	// MaxUploadSize is the maximum file upload size in bytes (100MB)
	MaxUploadSize = 100 << 20

	// MaxProfileImageSize is the maximum profile image size in bytes (20MB)
	MaxProfileImageSize = 20 << 20

	// ShutdownTimeout bounds graceful HTTP shutdown
	ShutdownTimeout = 10 // seconds
)
