package api

import (
	"net/http"
	"strconv"

	"github.com/safestrip/safestrip/internal/database"
)

// Page sizes of the list endpoints (readings, alerts, safety checks).
const (
	DefaultPerPage = 50
	MaxPerPage     = 200
)

// PaginationParams holds the ?page=&per_page= query of a list request.
type PaginationParams struct {
	Page    int
	PerPage int
}

// ParsePagination reads page and per_page. Missing or non-positive values
// fall back to the defaults; per_page is capped at MaxPerPage.
func ParsePagination(r *http.Request) PaginationParams {
	q := r.URL.Query()
	p := PaginationParams{
		Page:    positiveInt(q.Get("page"), 1),
		PerPage: positiveInt(q.Get("per_page"), DefaultPerPage),
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func positiveInt(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// DBPage converts the parameters to a storage window.
func (p PaginationParams) DBPage() database.Page {
	return database.Page{Offset: (p.Page - 1) * p.PerPage, Limit: p.PerPage}
}

// TotalPages is the number of pages holding total rows.
func (p PaginationParams) TotalPages(total int64) int {
	if p.PerPage <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
}

// PaginationMeta describes the window a list response covers.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse is the envelope of every list endpoint.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// Paginate wraps one page of rows with metadata for total matching rows.
func Paginate(p PaginationParams, total int64, data interface{}) PaginatedResponse {
	return PaginatedResponse{
		Data: data,
		Pagination: PaginationMeta{
			Page:       p.Page,
			PerPage:    p.PerPage,
			Total:      total,
			TotalPages: p.TotalPages(total),
		},
	}
}
