package jsonapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
)

func TestParsePageDefaults(t *testing.T) {
	p, err := ParsePage(httptest.NewRequest(http.MethodGet, "/auth/user", nil))
	require.NoError(t, err)
	assert.Equal(t, PageParams{Number: 1, Size: DefaultPageSize}, p)
	assert.Zero(t, p.Offset())
}

func TestParsePageCursor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/auth/user?strategy=cursor&page[size]=500&page[after]=abc", nil)
	p, err := ParsePage(req)
	require.NoError(t, err)
	assert.True(t, p.Cursor)
	assert.Equal(t, MaxPageSize, p.Size)
	assert.Equal(t, "abc", p.After)
}

func TestParsePageRejectsBadNumbers(t *testing.T) {
	for _, q := range []string{"page[number]=0", "page[number]=x", "page[size]=-1"} {
		_, err := ParsePage(httptest.NewRequest(http.MethodGet, "/auth/user?"+q, nil))
		var apiErr *apierror.Error
		require.ErrorAs(t, err, &apiErr, q)
		assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	}
}

func TestParsePageClampsHugeNumbers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/auth/user?page[number]=9223372036854775807&page[size]=100", nil)
	p, err := ParsePage(req)
	require.NoError(t, err)
	assert.Equal(t, MaxPageNumber, p.Number)
	assert.Equal(t, (MaxPageNumber-1)*MaxPageSize, p.Offset())
	assert.Positive(t, p.Offset())
}

func TestOffsetLinks(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/application?name=gfw&page[number]=2&page[size]=5", nil)
	p, err := ParsePage(req)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Offset())

	links := OffsetLinks(req, p, true)
	assert.Equal(t, "/api/v1/application?name=gfw&page%5Bnumber%5D=2&page%5Bsize%5D=5", links.Self)
	assert.Equal(t, "/api/v1/application?name=gfw&page%5Bnumber%5D=1&page%5Bsize%5D=5", links.First)
	assert.Equal(t, "/api/v1/application?name=gfw&page%5Bnumber%5D=1&page%5Bsize%5D=5", links.Prev)
	assert.Equal(t, "/api/v1/application?name=gfw&page%5Bnumber%5D=3&page%5Bsize%5D=5", links.Next)

	last := OffsetLinks(req, PageParams{Number: 1, Size: 5}, false)
	assert.Empty(t, last.Prev)
	assert.Empty(t, last.Next)
}

func TestCursorLinks(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/auth/user?strategy=cursor&page[after]=c1", nil)
	links := CursorLinks(req, 10, "c2", "c0")
	assert.Equal(t, "/auth/user?page%5Bafter%5D=c2&page%5Bsize%5D=10&strategy=cursor", links.Next)
	assert.Equal(t, "/auth/user?page%5Bbefore%5D=c0&page%5Bsize%5D=10&strategy=cursor", links.Prev)
	assert.Equal(t, "/auth/user?page%5Bsize%5D=10&strategy=cursor", links.First)
}
