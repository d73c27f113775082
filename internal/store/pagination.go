package store

import "math"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPageNumber keeps (Number-1)*Size within int for every valid size.
	MaxPageNumber = math.MaxInt / MaxPageSize
)

type Page struct {
	Number int
	Size   int
}

// NewPage clamps number and size to valid values.
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if number > MaxPageNumber {
		number = MaxPageNumber
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

func (p Page) normalized() Page {
	return NewPage(p.Number, p.Size)
}

func (p Page) Offset() int {
	n := p.normalized()
	return (n.Number - 1) * n.Size
}

func (p Page) Limit() int {
	return p.normalized().Size
}

type Paged[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

func NewPaged[T any](items []T, total int, page Page) Paged[T] {
	n := page.normalized()
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if total > 0 {
		totalPages = (total + n.Size - 1) / n.Size
	}
	return Paged[T]{
		Items:      items,
		Total:      total,
		Page:       n.Number,
		PageSize:   n.Size,
		TotalPages: totalPages,
	}
}
