package gateway

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Query holds URL parameters. Slices are sent comma-joined
// (ids=1,2,3) which is the format the backend parses.
type Query url.Values

// Set stores v under key and returns q for chaining. Empty strings, nil and
// empty slices are skipped.
func (q Query) Set(key string, v interface{}) Query {
	var s string
	switch x := v.(type) {
	case nil:
		return q
	case string:
		s = x
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	case bool:
		s = strconv.FormatBool(x)
	case []string:
		s = strings.Join(x, ",")
	case []int64:
		parts := make([]string, len(x))
		for i, n := range x {
			parts[i] = strconv.FormatInt(n, 10)
		}
		s = strings.Join(parts, ",")
	default:
		s = fmt.Sprint(x)
	}
	if s == "" {
		return q
	}
	url.Values(q).Set(key, s)
	return q
}

// Encode returns the URL-encoded form, keys sorted.
func (q Query) Encode() string {
	return url.Values(q).Encode()
}

// PageQuery builds the standard list parameters.
func PageQuery(page, limit int) Query {
	return Query{}.Set("page", page).Set("limit", limit)
}
