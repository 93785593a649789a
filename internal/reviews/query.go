package reviews

import "strings"

// Sort is the fixed set of orderings for the public listing.
type Sort string

const (
	SortDateDesc   Sort = "date_desc"
	SortDateAsc    Sort = "date_asc"
	SortRatingDesc Sort = "rating_desc"
	SortRatingAsc  Sort = "rating_asc"
)

// ParseSort falls back to SortDateDesc for anything unknown.
func ParseSort(s string) Sort {
	switch Sort(s) {
	case SortDateAsc, SortRatingDesc, SortRatingAsc:
		return Sort(s)
	default:
		return SortDateDesc
	}
}

// Filter restricts the admin listing.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterValidated Filter = "validated"
	FilterPending   Filter = "pending"
	FilterFlagged   Filter = "flagged"
)

// ParseFilter falls back to FilterAll for anything unknown.
func ParseFilter(s string) Filter {
	switch Filter(s) {
	case FilterValidated, FilterPending, FilterFlagged:
		return Filter(s)
	default:
		return FilterAll
	}
}

const (
	defaultPublicLimit = 20
	maxPublicLimit     = 50
	defaultAdminLimit  = 50
	maxAdminLimit      = 100
)

type PublicQuery struct {
	Page    int
	Limit   int
	Sort    Sort
	Company string
}

type AdminQuery struct {
	Page   int
	Limit  int
	Filter Filter
	Search string
}

// NewPublicQuery clamps paging to 1 ≤ limit ≤ 50. A zero limit means the
// default.
func NewPublicQuery(page, limit int, sort, company string) PublicQuery {
	return PublicQuery{
		Page:    clampPage(page),
		Limit:   clampLimit(limit, defaultPublicLimit, maxPublicLimit),
		Sort:    ParseSort(sort),
		Company: strings.TrimSpace(company),
	}
}

// NewAdminQuery clamps paging to 1 ≤ limit ≤ 100.
func NewAdminQuery(page, limit int, filter, search string) AdminQuery {
	return AdminQuery{
		Page:   clampPage(page),
		Limit:  clampLimit(limit, defaultAdminLimit, maxAdminLimit),
		Filter: ParseFilter(filter),
		Search: strings.TrimSpace(search),
	}
}

// Offset is the number of rows to skip.
func (q PublicQuery) Offset() int { return (q.Page - 1) * q.Limit }

// Offset is the number of rows to skip.
func (q AdminQuery) Offset() int { return (q.Page - 1) * q.Limit }

func clampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func clampLimit(limit, def, upper int) int {
	switch {
	case limit <= 0:
		return def
	case limit > upper:
		return upper
	default:
		return limit
	}
}

// TotalPages is ceil(total/limit).
func TotalPages(total int64, limit int) int {
	if limit <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}
