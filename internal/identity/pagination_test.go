package identity_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/identity/identitytest"
)

func seedUsers(n int) *identitytest.Directory {
	mem := identitytest.NewDirectory()
	for i := 1; i <= n; i++ {
		mem.Add(identity.User{LegacyID: fmt.Sprintf("u%02d", i), Email: fmt.Sprintf("u%02d@example.com", i), Role: identity.RoleUser}, "")
	}
	return mem
}

func ids(users []identity.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.LegacyID)
	}
	return out
}

func TestPagerOffsetWalksCursors(t *testing.T) {
	mem := seedUsers(7)
	pager := identity.NewPager(mem)

	page, err := pager.Page(context.Background(), identity.Filter{}, identity.PageRequest{Number: 2, Size: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"u04", "u05", "u06"}, ids(page.Users))
	assert.True(t, page.HasNext)
	assert.Equal(t, 2, mem.Calls["List"])

	last, err := pager.Page(context.Background(), identity.Filter{}, identity.PageRequest{Number: 3, Size: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"u07"}, ids(last.Users))
	assert.False(t, last.HasNext)
}

func TestPagerOffsetPastEndIsEmpty(t *testing.T) {
	pager := identity.NewPager(seedUsers(2))
	page, err := pager.Page(context.Background(), identity.Filter{}, identity.PageRequest{Number: 5, Size: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Users)
	assert.False(t, page.HasNext)
}

func TestPagerCursorForwardAndBack(t *testing.T) {
	pager := identity.NewPager(seedUsers(5))
	ctx := context.Background()

	first, err := pager.Page(ctx, identity.Filter{}, identity.PageRequest{Strategy: identity.StrategyCursor, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"u01", "u02"}, ids(first.Users))
	assert.Empty(t, first.Prev)
	require.NotEmpty(t, first.Next)

	second, err := pager.Page(ctx, identity.Filter{}, identity.PageRequest{Strategy: identity.StrategyCursor, Size: 2, After: first.Next})
	require.NoError(t, err)
	assert.Equal(t, []string{"u03", "u04"}, ids(second.Users))
	require.NotEmpty(t, second.Prev)

	back, err := pager.Page(ctx, identity.Filter{}, identity.PageRequest{Strategy: identity.StrategyCursor, Size: 2, Before: second.Prev})
	require.NoError(t, err)
	assert.Equal(t, []string{"u01", "u02"}, ids(back.Users))
}

func TestPagerRejectsForeignCursor(t *testing.T) {
	pager := identity.NewPager(seedUsers(1))
	_, err := pager.Page(context.Background(), identity.Filter{}, identity.PageRequest{Strategy: identity.StrategyCursor, After: "%%%"})
	assert.ErrorIs(t, err, identity.ErrInvalidCursor)
}

func TestPagerCapsPageSize(t *testing.T) {
	pager := identity.NewPager(seedUsers(1))
	page, err := pager.Page(context.Background(), identity.Filter{}, identity.PageRequest{Size: 1000})
	require.NoError(t, err)
	assert.Equal(t, identity.MaxPageSize, page.Size)
}
