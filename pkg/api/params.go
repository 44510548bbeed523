package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// pageParams carries the decoded pagination query
type pageParams struct {
	Page int
	Size int
}

func parsePageParams(r *http.Request) (pageParams, error) {
	p := pageParams{Page: 1, Size: defaultPageSize}

	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, fmt.Errorf("invalid page %q", raw)
		}
		p.Page = n
	}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, fmt.Errorf("invalid page_size %q", raw)
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		p.Size = n
	}
	return p, nil
}

// slice returns the page window [lo, hi) over a collection of n items
func (p pageParams) slice(n int) (int, int) {
	lo := (p.Page - 1) * p.Size
	if lo > n {
		lo = n
	}
	hi := lo + p.Size
	if hi > n {
		hi = n
	}
	return lo, hi
}

// parseTimeFilter decodes an RFC 3339 *_after / *_before query value
func parseTimeFilter(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q, want RFC 3339", key, raw)
	}
	return &t, nil
}

// ordering decodes the ordering query: a field name with an optional
// leading minus for descending.
type ordering struct {
	Field string
	Desc  bool
}

func parseOrdering(r *http.Request, allowed ...string) (*ordering, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("ordering"))
	if raw == "" {
		return nil, nil
	}
	o := &ordering{Field: raw}
	if strings.HasPrefix(raw, "-") {
		o.Desc = true
		o.Field = raw[1:]
	}
	for _, f := range allowed {
		if o.Field == f {
			return o, nil
		}
	}
	return nil, fmt.Errorf("cannot order by %q", o.Field)
}

// direction wraps an ascending comparison with the requested order
func (o *ordering) direction(less func(i, j int) bool) func(i, j int) bool {
	if o != nil && o.Desc {
		return func(i, j int) bool { return less(j, i) }
	}
	return less
}
