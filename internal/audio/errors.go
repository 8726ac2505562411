package audio

import "errors"

// Capture and recognition error kinds. Callers match them with errors.Is;
// the returned errors wrap one of these together with the underlying cause.
var (
	ErrPermissionDenied       = errors.New("capture permission denied")
	ErrDeviceUnavailable      = errors.New("capture device unavailable")
	ErrFormatUnsupported      = errors.New("audio format unsupported")
	ErrResourceCreationFailed = errors.New("audio resource creation failed")
	ErrRecognitionStartFailed = errors.New("speech recognition failed to start")
	ErrAlreadyStreaming       = errors.New("source is already streaming")
)
