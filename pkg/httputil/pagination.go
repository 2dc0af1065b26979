package httputil

import "net/http"

// PageParams are the skip/limit query parameters
type PageParams struct {
	Skip  int
	Limit int
}

// ParsePageParams reads skip and limit. limit defaults to defaultLimit and
// must lie in [1, maxLimit]; skip must not be negative.
func ParsePageParams(r *http.Request, defaultLimit, maxLimit int) (PageParams, error) {
	skip, err := ParseQueryInt(r, "skip", 0)
	if err != nil {
		return PageParams{}, err
	}
	limit, err := ParseQueryInt(r, "limit", defaultLimit)
	if err != nil {
		return PageParams{}, err
	}
	if skip < 0 {
		return PageParams{}, InvalidField("skip", "must be greater than or equal to 0")
	}
	if limit < 1 || limit > maxLimit {
		return PageParams{}, InvalidField("limit", "must be between 1 and the maximum page size")
	}
	return PageParams{Skip: skip, Limit: limit}, nil
}

// Page is the paginated data payload
type Page struct {
	Items       interface{} `json:"items"`
	Total       int64       `json:"total"`
	Page        int         `json:"page"`
	PageSize    int         `json:"page_size"`
	TotalPages  int         `json:"total_pages"`
	HasNext     bool        `json:"has_next"`
	HasPrevious bool        `json:"has_previous"`
}

// NewPage computes page = skip/limit + 1 and total_pages = ceil(total/limit),
// with at least one page.
func NewPage(items interface{}, total int64, params PageParams) Page {
	limit := params.Limit
	if limit < 1 {
		limit = 1
	}
	page := params.Skip/limit + 1
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	if totalPages < 1 {
		totalPages = 1
	}
	if items == nil {
		items = []interface{}{}
	}
	return Page{
		Items:       items,
		Total:       total,
		Page:        page,
		PageSize:    limit,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}
}
