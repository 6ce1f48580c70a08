package models

import "errors"

var (
	ErrFetchFailure     = errors.New("collection fetch failed")
	ErrIconLoadFailure  = errors.New("icon load failed")
	ErrMalformedDetails = errors.New("malformed details")
	ErrMissingTemplate  = errors.New("missing popup template")
)

// ErrorCode returns the short code reported to clients for err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFetchFailure):
		return "fetch_failure"
	case errors.Is(err, ErrIconLoadFailure):
		return "icon_load_failure"
	case errors.Is(err, ErrMalformedDetails):
		return "malformed_details"
	case errors.Is(err, ErrMissingTemplate):
		return "missing_template"
	default:
		return "internal"
	}
}
