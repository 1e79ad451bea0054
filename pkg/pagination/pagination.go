package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is a window over a result set.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit/offset from the query string. Page-style requests
// (page_num/page_size, or pageNum/pageSize from older clients) are accepted
// too and take precedence when a page number is present.
func FromContext(c echo.Context) Params {
	if page := firstInt(c, "page_num", "pageNum"); page > 0 {
		size := clampLimit(firstInt(c, "page_size", "pageSize"))
		return Params{Limit: size, Offset: (page - 1) * size}
	}

	offset := firstInt(c, "offset")
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: clampLimit(firstInt(c, "limit")), Offset: offset}
}

func firstInt(c echo.Context, names ...string) int {
	for _, name := range names {
		if v := c.QueryParam(name); v != "" {
			n, _ := strconv.Atoi(v)
			return n
		}
	}
	return 0
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}

// Page is the 1-based page the window starts on.
func (p Params) Page() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// Pages is the number of pages needed to hold total rows.
func (p Params) Pages(total int) int {
	if p.Limit <= 0 || total <= 0 {
		return 0
	}
	return (total + p.Limit - 1) / p.Limit
}

func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// Response wraps one page of a list endpoint.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	Page    int         `json:"page"`
	Pages   int         `json:"pages"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		Page:    p.Page(),
		Pages:   p.Pages(total),
		HasMore: p.HasNext(total),
	}
}
