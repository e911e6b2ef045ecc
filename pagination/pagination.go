/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package pagination parses limit/offset list parameters from URL query values
// and provides a window helper for slicing in-memory result sets.
package pagination

import (
	"fmt"
	"net/url"

	"github.com/spf13/cast"
)

// Query parameter names.
const (
	ParamLimit  = "limit"
	ParamOffset = "offset"
	ParamPage   = "page"
)

// Default values for parsing options.
const (
	DefaultLimit    = 50
	DefaultMaxLimit = 1000
)

// MalformedParamError is an error that occurs in case of an incorrect list parameter.
type MalformedParamError struct {
	ParamName string
	Message   string
}

// Error returns a string representation of MalformedParamError.
func (e *MalformedParamError) Error() string {
	return fmt.Sprintf("invalid %q parameter: %s", e.ParamName, e.Message)
}

// Page is a parsed pagination window.
type Page struct {
	Limit  int
	Offset int
}

// Slice maps the window onto a collection of n items and returns the [lo, hi)
// bounds to slice it with. Both bounds are clamped to n, so the result is
// always a valid range (possibly empty).
func (p Page) Slice(n int) (lo, hi int) {
	lo = p.Offset
	if lo > n {
		lo = n
	}
	hi = p.Offset + p.Limit
	if hi > n {
		hi = n
	}
	return lo, hi
}

// Opts represents options for parsing pagination parameters.
type Opts struct {
	// DefaultLimit is used when the limit parameter is absent.
	// If it's not positive, DefaultLimit const is used.
	DefaultLimit int

	// MaxLimit caps the limit parameter. Values above it are reduced to it.
	// If it's not positive, DefaultMaxLimit const is used.
	MaxLimit int
}

// Parse extracts limit and offset from the provided query values using default options.
func Parse(values url.Values) (Page, error) {
	return ParseWithOpts(values, Opts{})
}

// ParseWithOpts extracts limit and offset from the provided query values.
// The page parameter is accepted as a 1-based alias for offset
// (offset = (page-1)*limit) and must not be combined with offset.
func ParseWithOpts(values url.Values, opts Opts) (Page, error) {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}

	page := Page{Limit: opts.DefaultLimit}

	if s := values.Get(ParamLimit); s != "" {
		limit, err := cast.ToIntE(s)
		if err != nil {
			return Page{}, &MalformedParamError{ParamLimit, fmt.Sprintf("%q is not a valid integer", s)}
		}
		if limit <= 0 {
			return Page{}, &MalformedParamError{ParamLimit, "must be positive"}
		}
		if limit > opts.MaxLimit {
			limit = opts.MaxLimit
		}
		page.Limit = limit
	}

	offsetParam := values.Get(ParamOffset)
	pageParam := values.Get(ParamPage)
	if offsetParam != "" && pageParam != "" {
		return Page{}, &MalformedParamError{ParamPage, fmt.Sprintf("must not be combined with %q", ParamOffset)}
	}

	switch {
	case offsetParam != "":
		offset, err := cast.ToIntE(offsetParam)
		if err != nil {
			return Page{}, &MalformedParamError{ParamOffset, fmt.Sprintf("%q is not a valid integer", offsetParam)}
		}
		if offset < 0 {
			return Page{}, &MalformedParamError{ParamOffset, "must not be negative"}
		}
		page.Offset = offset

	case pageParam != "":
		pageNum, err := cast.ToIntE(pageParam)
		if err != nil {
			return Page{}, &MalformedParamError{ParamPage, fmt.Sprintf("%q is not a valid integer", pageParam)}
		}
		if pageNum < 1 {
			return Page{}, &MalformedParamError{ParamPage, "must be greater or equal to 1"}
		}
		page.Offset = (pageNum - 1) * page.Limit
	}

	return page, nil
}
