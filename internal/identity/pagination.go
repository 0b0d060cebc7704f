package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
)

// Strategy selects how pages are addressed.
type Strategy string

const (
	StrategyOffset Strategy = "offset"
	StrategyCursor Strategy = "cursor"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ErrInvalidCursor is returned for cursors that were not produced by Pager.
var ErrInvalidCursor = errors.New("identity: invalid page cursor")

// PageRequest is the parsed page[...] query.
type PageRequest struct {
	Strategy Strategy
	Number   int
	Size     int
	After    string
	Before   string
}

// Page is one page of users plus what is needed to address its neighbours.
// For the cursor strategy Next and Prev are opaque cursors; for the offset
// strategy HasNext and Number are used instead.
type Page struct {
	Users    []User
	Strategy Strategy
	Number   int
	Size     int
	HasNext  bool
	Next     string
	Prev     string
}

// Pager pages over a Directory. The provider only exposes forward cursors,
// so page numbers are simulated by walking cursors from the start, and
// cursors handed to callers encode the trail of page start positions so
// page[before] can step back.
type Pager struct {
	dir Directory
}

func NewPager(dir Directory) *Pager {
	return &Pager{dir: dir}
}

// Page returns the requested page.
func (p *Pager) Page(ctx context.Context, filter Filter, req PageRequest) (Page, error) {
	size := req.Size
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if req.Strategy == StrategyCursor {
		return p.cursorPage(ctx, filter, size, req)
	}
	return p.offsetPage(ctx, filter, size, req.Number)
}

func (p *Pager) offsetPage(ctx context.Context, filter Filter, size, number int) (Page, error) {
	if number <= 0 {
		number = 1
	}
	page := Page{Strategy: StrategyOffset, Number: number, Size: size, Users: []User{}}

	after := ""
	for i := 1; i < number; i++ {
		res, err := p.dir.List(ctx, filter, ListRequest{Limit: size, After: after})
		if err != nil {
			return Page{}, err
		}
		if res.NextAfter == "" {
			return page, nil
		}
		after = res.NextAfter
	}

	res, err := p.dir.List(ctx, filter, ListRequest{Limit: size, After: after})
	if err != nil {
		return Page{}, err
	}
	page.Users = res.Users
	page.HasNext = res.NextAfter != ""
	return page, nil
}

func (p *Pager) cursorPage(ctx context.Context, filter Filter, size int, req PageRequest) (Page, error) {
	trail := []string{""}
	switch {
	case req.After != "":
		t, err := decodeCursor(req.After)
		if err != nil {
			return Page{}, err
		}
		trail = t
	case req.Before != "":
		t, err := decodeCursor(req.Before)
		if err != nil {
			return Page{}, err
		}
		if len(t) > 1 {
			trail = t[:len(t)-1]
		}
	}

	res, err := p.dir.List(ctx, filter, ListRequest{Limit: size, After: trail[len(trail)-1]})
	if err != nil {
		return Page{}, err
	}

	page := Page{Strategy: StrategyCursor, Size: size, Users: res.Users}
	if res.NextAfter != "" {
		page.HasNext = true
		next := append(append([]string{}, trail...), res.NextAfter)
		page.Next = encodeCursor(next)
	}
	if len(trail) > 1 {
		page.Prev = encodeCursor(trail)
	}
	return page, nil
}

func encodeCursor(trail []string) string {
	data, _ := json.Marshal(trail)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(cursor string) ([]string, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var trail []string
	if err := json.Unmarshal(data, &trail); err != nil || len(trail) == 0 {
		return nil, ErrInvalidCursor
	}
	return trail, nil
}
