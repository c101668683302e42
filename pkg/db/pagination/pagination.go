package pagination

const (
	DefaultLimit = 25
	MaxLimit     = 250
)

type Pagination struct {
	Page  int `form:"page,default=1"`
	Limit int `form:"limit,default=25"`
}

// Normalize clamps page to >= 1 and limit to [1, MaxLimit].
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

func (p Pagination) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Limit
}

type PageInfo struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// Slice returns one page of an already ordered result set.
func Slice[T any](items []T, p Pagination) ([]T, PageInfo) {
	p = p.Normalize()
	info := PageInfo{Page: p.Page, Limit: p.Limit, Total: len(items)}
	start := p.Offset()
	if start >= len(items) {
		return []T{}, info
	}
	end := start + p.Limit
	if end > len(items) {
		end = len(items)
	}
	info.HasMore = end < len(items)
	return items[start:end], info
}
