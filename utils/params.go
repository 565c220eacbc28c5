package utils

import (
	"net/http"
	"strconv"
)

type QueryOptions struct {
	Page  int
	Limit int
}

// Offset is the number of rows skipped before the current page.
func (q QueryOptions) Offset() int {
	return (q.Page - 1) * q.Limit
}

func ParseQueryOptions(r *http.Request) QueryOptions {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	return QueryOptions{Page: page, Limit: limit}
}
