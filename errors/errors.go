package errors

import "fmt"

var (
	// Fatal at setup, before any batch can run.
	ErrSecretTooShort = fmt.Errorf("token secret must be at least 16 bytes")

	// Per-file validation rejections (record becomes Skipped).
	ErrFileTooLarge   = fmt.Errorf("file exceeds the size ceiling")
	ErrTypeNotAllowed = fmt.Errorf("content type is not in the allow-list")
	ErrBatchFull      = fmt.Errorf("batch file count ceiling reached")

	// Boundary rejections (record becomes Failed).
	ErrInvalidToken     = fmt.Errorf("upload token is invalid")
	ErrReplayedToken    = fmt.Errorf("upload token was already used")
	ErrPolicyRejected   = fmt.Errorf("content policy could not be decrypted")
	ErrTypeSpoofed      = fmt.Errorf("detected content type does not match the extension")
	ErrArtifactNotFound = fmt.Errorf("artifact claim not found or expired")

	ErrWorkerPanic = fmt.Errorf("worker panic")
)
