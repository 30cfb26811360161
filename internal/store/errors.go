package store

import "errors"

// Sentinel errors forming the backend error taxonomy. Backends wrap their
// native errors with one of these so callers can branch on category without
// knowing the backend.
var (
	ErrQuotaExceeded = errors.New("store: quota exceeded")
	ErrMissingIndex  = errors.New("store: missing index")
	ErrPermission    = errors.New("store: permission denied")
	ErrUnavailable   = errors.New("store: unavailable")
	ErrNotFound      = errors.New("store: not found")
)

// Category buckets a store error for user-facing handling.
type Category int

const (
	CategoryGeneric Category = iota
	CategoryQuota
	CategoryMissingIndex
	CategoryPermission
	CategoryUnavailable
	CategoryNotFound
)

// Categorize maps an error to its taxonomy bucket.
func Categorize(err error) Category {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return CategoryQuota
	case errors.Is(err, ErrMissingIndex):
		return CategoryMissingIndex
	case errors.Is(err, ErrPermission):
		return CategoryPermission
	case errors.Is(err, ErrUnavailable):
		return CategoryUnavailable
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	default:
		return CategoryGeneric
	}
}

// String returns the wire name of a category.
func (c Category) String() string {
	switch c {
	case CategoryQuota:
		return "QUOTA_EXCEEDED"
	case CategoryMissingIndex:
		return "MISSING_INDEX"
	case CategoryPermission:
		return "PERMISSION_DENIED"
	case CategoryUnavailable:
		return "UNAVAILABLE"
	case CategoryNotFound:
		return "NOT_FOUND"
	default:
		return "GENERIC"
	}
}

// Banner returns the human-readable banner text for a category. Each
// category gets a distinct message so a failure is never ambiguous between
// "retry" and "rejected".
func (c Category) Banner() string {
	switch c {
	case CategoryQuota:
		return "The chat backend has run out of quota. Messages will reappear when it resets."
	case CategoryMissingIndex:
		return "The chat backend is missing a required index. An administrator needs to create it."
	case CategoryPermission:
		return "You do not have permission to view this chat."
	case CategoryUnavailable:
		return "The chat backend is unreachable. Check your connection and retry."
	case CategoryNotFound:
		return "The requested message no longer exists."
	default:
		return "Something went wrong loading the chat. Please retry."
	}
}
