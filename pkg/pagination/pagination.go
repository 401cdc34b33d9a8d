// Package pagination reads the paging window of a list request and wraps
// the envelope every list endpoint responds with.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Waiting-room displays poll list endpoints continuously, so pages stay
// small by default and are hard-capped to protect the ledger.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is the window a list request asked for, already clamped.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit plus either offset or a 1-based page number from
// the query string. Bad or missing values fall back to defaults instead of
// erroring; display hardware is in no position to handle a 400.
func FromContext(c echo.Context) Params {
	p := Params{Limit: DefaultLimit}

	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		p.Limit = v
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	if raw := c.QueryParam("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			p.Offset = v
		}
	} else if raw := c.QueryParam("page"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 1 {
			p.Offset = (v - 1) * p.Limit
		}
	}
	return p
}

// Page is one window of a listing along with enough bookkeeping for the
// client to ask for the next one.
type Page struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// NewPage wraps one window of a listing whose full size is total.
func NewPage(data interface{}, total int, p Params) *Page {
	return &Page{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+p.Limit < total,
	}
}
