// Package errclass categorizes processing failures for user presentation.
//
// Every failure that reaches a media file's last_error_message is first run
// through Classify so the stored string carries a stable category prefix and
// the UI can render the matching message and suggestions. Only NETWORK_ERROR,
// PROCESSING_ERROR, and UNKNOWN are retriable; the rest describe the input
// itself and retrying cannot help.
package errclass

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind is the failure category shown to users.
type Kind string

const (
	// FileQuality covers corrupted, unsupported, or undecodable media.
	FileQuality Kind = "FILE_QUALITY"

	// NoSpeech means no detectable speech content was found.
	NoSpeech Kind = "NO_SPEECH"

	// FormatIssue covers codec, container, or encoding problems.
	FormatIssue Kind = "FORMAT_ISSUE"

	// NetworkError covers connectivity failures, timeouts, and inaccessible
	// URLs.
	NetworkError Kind = "NETWORK_ERROR"

	// PermissionError covers access denial and DRM-protected sources.
	PermissionError Kind = "PERMISSION_ERROR"

	// ProcessingError is a generic server-side failure.
	ProcessingError Kind = "PROCESSING_ERROR"

	// Unknown is the fallback for unclassified failures.
	Unknown Kind = "UNKNOWN"
)

// Sentinel errors task code wraps to force a specific classification.
var (
	ErrNoSpeech    = errors.New("no detectable speech content")
	ErrFileQuality = errors.New("media content is corrupted or undecodable")
	ErrFormat      = errors.New("unsupported codec or container")
	ErrPermission  = errors.New("access to the source was denied")
)

// Retriable reports whether a failure of this kind may succeed on retry.
func (k Kind) Retriable() bool {
	switch k {
	case NetworkError, ProcessingError, Unknown:
		return true
	}
	return false
}

// UserMessage returns the human-readable one-line explanation for k.
func (k Kind) UserMessage() string {
	switch k {
	case FileQuality:
		return "The file appears to be corrupted or could not be decoded."
	case NoSpeech:
		return "No speech was detected in this file."
	case FormatIssue:
		return "The file's codec or container format is not supported."
	case NetworkError:
		return "A network problem interrupted processing."
	case PermissionError:
		return "Access to the source was denied."
	case ProcessingError:
		return "Processing failed due to a server-side error."
	default:
		return "Processing failed for an unknown reason."
	}
}

// Suggestions returns the fixed remediation hints for k.
func (k Kind) Suggestions() []string {
	switch k {
	case FileQuality:
		return []string{
			"Re-export the media from its original source.",
			"Try converting the file to a common format such as MP3 or MP4.",
		}
	case NoSpeech:
		return []string{
			"Check that the file contains spoken audio.",
			"If the speech is very quiet, normalize the audio and re-upload.",
		}
	case FormatIssue:
		return []string{
			"Convert the file to MP3, WAV, or MP4 and re-upload.",
		}
	case NetworkError:
		return []string{
			"Check that the source URL is reachable.",
			"Retry the upload; transient network failures usually resolve.",
		}
	case PermissionError:
		return []string{
			"Verify the source is publicly accessible.",
			"DRM-protected content cannot be processed.",
		}
	case ProcessingError:
		return []string{
			"Retry the file; if the failure persists, contact the operator.",
		}
	default:
		return []string{
			"Retry the file; if the failure persists, contact the operator.",
		}
	}
}

// Classify maps err to its Kind. Sentinel wrapping wins; otherwise the error
// chain and message are inspected for well-known shapes.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}

	switch {
	case errors.Is(err, ErrNoSpeech):
		return NoSpeech
	case errors.Is(err, ErrFileQuality):
		return FileQuality
	case errors.Is(err, ErrFormat):
		return FormatIssue
	case errors.Is(err, ErrPermission):
		return PermissionError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NetworkError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection refused", "connection reset", "no such host", "timeout", "timed out", "unreachable", "tls handshake"):
		return NetworkError
	case containsAny(msg, "403", "forbidden", "unauthorized", "access denied", "drm", "permission denied"):
		return PermissionError
	case containsAny(msg, "invalid data", "corrupt", "truncated", "could not decode", "moov atom"):
		return FileQuality
	case containsAny(msg, "unsupported codec", "unknown format", "invalid codec", "unsupported container", "sample rate"):
		return FormatIssue
	case containsAny(msg, "no speech", "silent audio"):
		return NoSpeech
	case containsAny(msg, "internal server error", "out of memory", "cuda", "worker died"):
		return ProcessingError
	}
	return Unknown
}

// Message renders the stored last_error_message form: "KIND: detail".
func Message(err error) string {
	if err == nil {
		return ""
	}
	return string(Classify(err)) + ": " + err.Error()
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
