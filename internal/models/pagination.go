package models

import "strconv"

const (
	DefaultPage     = 1
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// PageRequest is a validated page number and size.
type PageRequest struct {
	Page     int
	PageSize int
}

// NewPageRequest validates page >= 1 and 1 <= pageSize <= MaxPageSize.
// Zero values select the defaults.
func NewPageRequest(page, pageSize int) (PageRequest, error) {
	if page == 0 {
		page = DefaultPage
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	if page < 1 {
		return PageRequest{}, &ValidationError{
			Field:   "page",
			Value:   strconv.Itoa(page),
			Message: "page must be greater than or equal to 1",
		}
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return PageRequest{}, &ValidationError{
			Field:   "page_size",
			Value:   strconv.Itoa(pageSize),
			Message: "page_size must be between 1 and " + strconv.Itoa(MaxPageSize),
		}
	}

	return PageRequest{Page: page, PageSize: pageSize}, nil
}

// Limit is the SQL LIMIT of the page
func (p PageRequest) Limit() int {
	return p.PageSize
}

// Offset is the SQL OFFSET of the page
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Page is one page of query results together with the total match count.
type Page[T any] struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Items    []T `json:"items"`
}

// NewPage wraps items for req. A nil slice is normalized to an empty one.
func NewPage[T any](req PageRequest, total int, items []T) *Page[T] {
	if items == nil {
		items = []T{}
	}
	return &Page[T]{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}
}
