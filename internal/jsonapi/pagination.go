package jsonapi

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	// MaxPageNumber keeps (Number-1)*Size far from int overflow. Larger
	// numbers are clamped and land on an empty page.
	MaxPageNumber = 1_000_000
)

// PageParams is the parsed page[...] query shared by every listing.
// Number is 1-based.
type PageParams struct {
	Cursor bool
	Number int
	Size   int
	After  string
	Before string
}

// Offset returns the row offset for offset pagination.
func (p PageParams) Offset() int {
	return (p.Number - 1) * p.Size
}

// ParsePage reads strategy, page[number], page[size], page[after] and
// page[before]. Malformed numbers are a 400.
func ParsePage(r *http.Request) (PageParams, error) {
	q := r.URL.Query()
	p := PageParams{
		Cursor: q.Get("strategy") == "cursor",
		Number: 1,
		Size:   DefaultPageSize,
		After:  q.Get("page[after]"),
		Before: q.Get("page[before]"),
	}
	if raw := q.Get("page[number]"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return PageParams{}, apierror.BadRequest("Invalid page number")
		}
		p.Number = min(n, MaxPageNumber)
	}
	if raw := q.Get("page[size]"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return PageParams{}, apierror.BadRequest("Invalid page size")
		}
		p.Size = min(n, MaxPageSize)
	}
	return p, nil
}

// OffsetLinks builds self/first/prev/next links for offset pagination.
func OffsetLinks(r *http.Request, p PageParams, hasNext bool) *Links {
	links := &Links{
		Self:  pageURL(r, map[string]string{"page[number]": strconv.Itoa(p.Number), "page[size]": strconv.Itoa(p.Size)}),
		First: pageURL(r, map[string]string{"page[number]": "1", "page[size]": strconv.Itoa(p.Size)}),
	}
	if p.Number > 1 {
		links.Prev = pageURL(r, map[string]string{"page[number]": strconv.Itoa(p.Number - 1), "page[size]": strconv.Itoa(p.Size)})
	}
	if hasNext {
		links.Next = pageURL(r, map[string]string{"page[number]": strconv.Itoa(p.Number + 1), "page[size]": strconv.Itoa(p.Size)})
	}
	return links
}

// CursorLinks builds links for cursor pagination. Empty cursors produce no link.
func CursorLinks(r *http.Request, size int, next, prev string) *Links {
	links := &Links{
		Self:  pageURL(r, nil),
		First: pageURL(r, map[string]string{"page[size]": strconv.Itoa(size), "page[after]": "", "page[before]": ""}),
	}
	if next != "" {
		links.Next = pageURL(r, map[string]string{"page[size]": strconv.Itoa(size), "page[after]": next, "page[before]": ""})
	}
	if prev != "" {
		links.Prev = pageURL(r, map[string]string{"page[size]": strconv.Itoa(size), "page[before]": prev, "page[after]": ""})
	}
	return links
}

// pageURL copies the request URL with the given query overrides. An empty
// override value removes the parameter.
func pageURL(r *http.Request, overrides map[string]string) string {
	q := r.URL.Query()
	for k, v := range overrides {
		if v == "" {
			q.Del(k)
			continue
		}
		q.Set(k, v)
	}
	u := url.URL{Path: r.URL.Path, RawQuery: q.Encode()}
	return u.String()
}
