// Package utils holds the page arithmetic shared by the list endpoints and
// the services behind them.
package utils

import "strconv"

// Page size bounds for list endpoints.
const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// AtoiDefault parses s as an int, returning def when s is empty or invalid.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParsePage reads raw page/per_page query values. Pages start at 1 and the
// page size is kept within [1, MaxPerPage].
func ParsePage(pageRaw, perPageRaw string) (page, perPage int) {
	page = AtoiDefault(pageRaw, 1)
	if page < 1 {
		page = 1
	}
	perPage = AtoiDefault(perPageRaw, DefaultPerPage)
	if perPage < 1 {
		perPage = 1
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

// Offset is the row offset of a 1-based page.
func Offset(page, perPage int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * perPage
}

// TotalPages rounds total/perPage up; zero when perPage is not positive.
func TotalPages(total int64, perPage int) int {
	if perPage <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}
