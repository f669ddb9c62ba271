package shared

import "math"

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 50
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Bounds returns the slice window [lo, hi) for a listing of Total items.
func (p Pagination) Bounds() (int, int) {
	lo := (p.Page - 1) * p.PerPage
	if lo > p.Total {
		lo = p.Total
	}
	hi := lo + p.PerPage
	if hi > p.Total {
		hi = p.Total
	}
	return lo, hi
}
