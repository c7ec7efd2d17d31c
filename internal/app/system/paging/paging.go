// internal/app/system/paging/paging.go
package paging

import (
	"net/http"
	"strconv"

	"github.com/dalemusser/waffle/pantry/query"
)

// PageSize is the default number of rows in a paged API response.
const PageSize = 50

// MaxPageSize bounds a caller-supplied page size.
const MaxPageSize = 200

// ParsePage extracts the 1-based "page" query parameter.
// Returns 1 if not present or invalid.
func ParsePage(r *http.Request) int {
	n, err := strconv.Atoi(query.Get(r, "page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// ParseSize extracts the "size" query parameter, clamped to
// [1, MaxPageSize]. Returns PageSize if not present or invalid.
func ParseSize(r *http.Request) int {
	n, err := strconv.Atoi(query.Get(r, "size"))
	if err != nil || n < 1 {
		return PageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// Offset returns the number of rows to skip for page.
func Offset(page, size int) int64 {
	if page < 1 {
		page = 1
	}
	return int64((page - 1) * size)
}

// Info describes one page of an offset-paged result.
type Info struct {
	Page       int   `json:"page"`
	TotalPages int   `json:"totalPages"`
	Total      int64 `json:"total"`
	HasPrev    bool  `json:"hasPrev"`
	HasNext    bool  `json:"hasNext"`
}

// Compute returns the page info for total rows split into pages of size.
// An empty result is a single empty page.
func Compute(total int64, page, size int) Info {
	if size < 1 {
		size = PageSize
	}
	pages := int((total + int64(size) - 1) / int64(size))
	if pages < 1 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	return Info{
		Page:       page,
		TotalPages: pages,
		Total:      total,
		HasPrev:    page > 1,
		HasNext:    page < pages,
	}
}
