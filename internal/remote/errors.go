package remote

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// The store speaks the same error vocabulary Firestore does: gRPC status
// codes. Both bindings produce them, so callers classify failures uniformly.

// NotFoundErr builds a not-found error for a document path.
func NotFoundErr(path string) error {
	return status.Errorf(codes.NotFound, "document %s not found", path)
}

// PermissionDeniedErr builds an authorization error with diagnostic context.
func PermissionDeniedErr(format string, args ...any) error {
	return status.Errorf(codes.PermissionDenied, format, args...)
}

// UnavailableErr builds a transient store-unavailable error.
func UnavailableErr(format string, args ...any) error {
	return status.Errorf(codes.Unavailable, format, args...)
}

// AbortedErr builds a transaction-contention error. Classified transient:
// the caller may retry the whole transaction.
func AbortedErr(format string, args ...any) error {
	return status.Errorf(codes.Aborted, format, args...)
}

// IsNotFound reports whether err is a missing-document error.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// IsPermissionDenied reports whether err is an authorization failure.
// Streams treat these as terminal; everything else is transient.
func IsPermissionDenied(err error) bool {
	return status.Code(err) == codes.PermissionDenied
}

// IsTransient reports whether err is worth retrying or riding out.
func IsTransient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}
