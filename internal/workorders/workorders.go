// Package workorders reads work orders from the plant's order system. The
// host only reads; orders are created and changed elsewhere.
package workorders

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidPageSize = errors.New("page size must be greater than zero")
	ErrInvalidID       = errors.New("work order id is required")
)

// WorkOrder is the read model shared by every backend.
type WorkOrder struct {
	ID         string     `json:"id"`
	Number     string     `json:"number"`
	Status     string     `json:"status"`
	Line       string     `json:"line"`
	PartNo     string     `json:"partNo"`
	CreatedUtc time.Time  `json:"createdUtc"`
	DueUtc     *time.Time `json:"dueUtc"`
}

// PageRequest selects one page of work orders. Empty filters are ignored.
type PageRequest struct {
	Page     int
	PageSize int
	Search   string
	Status   string
	Line     string
	PartNo   string
	FromUTC  *time.Time
	ToUTC    *time.Time
}

// PageResult is one page of a search.
type PageResult struct {
	Items      []WorkOrder `json:"items"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalCount int         `json:"totalCount"`
}

// Reader is implemented by the SQL and REST backends.
type Reader interface {
	// Search returns one page of matching work orders, newest first.
	Search(ctx context.Context, req PageRequest) (PageResult, error)
	// Get returns nil, nil when the work order does not exist.
	Get(ctx context.Context, id string) (*WorkOrder, error)
}

// normalize validates req and clamps the page number to 1.
func (req PageRequest) normalize() (PageRequest, error) {
	if req.PageSize <= 0 {
		return req, ErrInvalidPageSize
	}
	if req.Page < 1 {
		req.Page = 1
	}
	req.Search = strings.TrimSpace(req.Search)
	req.Status = strings.TrimSpace(req.Status)
	req.Line = strings.TrimSpace(req.Line)
	req.PartNo = strings.TrimSpace(req.PartNo)
	return req, nil
}

func (req PageRequest) offset() int {
	return (req.Page - 1) * req.PageSize
}

func emptyPage(req PageRequest) PageResult {
	return PageResult{Items: []WorkOrder{}, Page: req.Page, PageSize: req.PageSize}
}
