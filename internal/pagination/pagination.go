// Package pagination turns page/limit query parameters into offsets and
// builds the paginated response envelope.
package pagination

import "math"

const (
	DefaultLimit = 24
	MaxLimit     = 24
	// MaxPage keeps Offset within 32 bits at MaxLimit.
	MaxPage = math.MaxInt32 / MaxLimit
)

// Page is a validated page request. Number starts at 1.
type Page struct {
	Number int
	Limit  int
}

// New clamps the requested page and limit: limit falls back to DefaultLimit
// when not positive and never exceeds MaxLimit; page is between 1 and
// MaxPage.
func New(page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	return Page{Number: page, Limit: Clamp(limit, DefaultLimit, MaxLimit)}
}

// Offset is the number of items before the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// Clamp returns def when v is not positive and max when v exceeds it.
func Clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// TotalPages is the number of pages needed for total items.
func TotalPages(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

// Result is the JSON envelope of a paginated listing.
type Result[T any] struct {
	Data           []T   `json:"data"`
	CurrentPage    int   `json:"currentPage"`
	TotalPages     int   `json:"totalPages"`
	TotalDocuments int64 `json:"totalDocuments"`
}

// NewResult wraps one page of data.
func NewResult[T any](data []T, p Page, total int64) Result[T] {
	if data == nil {
		data = []T{}
	}
	return Result[T]{
		Data:           data,
		CurrentPage:    p.Number,
		TotalPages:     TotalPages(total, p.Limit),
		TotalDocuments: total,
	}
}
