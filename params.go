package glance

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/imageservice/glance/types"
)

// visibilityUnfiltered is the legacy is_public sentinel asking the service
// not to filter on visibility at all.
const visibilityUnfiltered = "none"

// ListOpts selects and orders the images returned by Detail. Filters use
// the legacy vocabulary regardless of the configured API version; Detail
// rewrites them for the current API where needed. Free-form properties are
// filtered as "property-<name>".
type ListOpts struct {
	Filters  map[string]string
	Marker   string
	Limit    int
	PageSize int
	SortKey  string
	SortDir  string
}

// listFilters normalizes opts.Filters, defaulting to the unfiltered
// visibility sentinel so private images are not silently dropped.
func listFilters(opts ListOpts) map[string]string {
	filters := make(map[string]string, len(opts.Filters)+1)
	for k, v := range opts.Filters {
		filters[k] = v
	}
	if _, ok := filters["is_public"]; !ok {
		filters["is_public"] = visibilityUnfiltered
	}
	return filters
}

func setPagingParams(q url.Values, opts ListOpts) {
	if opts.Marker != "" {
		q.Set("marker", opts.Marker)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	} else if opts.PageSize > 0 {
		q.Set("limit", strconv.Itoa(opts.PageSize))
	}
	if opts.SortKey != "" {
		q.Set("sort_key", opts.SortKey)
	}
	if opts.SortDir != "" {
		q.Set("sort_dir", opts.SortDir)
	}
}

// buildListQueryV1 renders opts for the legacy listing, which understands
// the legacy filter vocabulary natively.
func buildListQueryV1(opts ListOpts) url.Values {
	q := url.Values{}
	for k, v := range listFilters(opts) {
		q.Set(k, v)
	}
	setPagingParams(q, opts)
	return q
}

// buildListQueryV2 renders opts for the current listing. Legacy filters are
// rewritten: property filters lose their prefix, changes-since becomes an
// updated_at bound, and the is_public flag becomes a visibility filter (or
// no filter at all for the unfiltered sentinel).
func buildListQueryV2(opts ListOpts) url.Values {
	q := url.Values{}
	for k, v := range listFilters(opts) {
		switch {
		case strings.HasPrefix(k, "property-"):
			q.Set(strings.TrimPrefix(k, "property-"), v)
		case k == "changes-since":
			q.Set("updated_at", "gte:"+v)
		case k == "is_public":
			switch strings.ToLower(v) {
			case "true", "1":
				q.Set("visibility", string(types.ImageVisibilityPublic))
			case "false", "0":
				q.Set("visibility", string(types.ImageVisibilityPrivate))
			}
		default:
			q.Set(k, v)
		}
	}
	setPagingParams(q, opts)
	return q
}
