package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page, info := Slice(items, Pagination{Page: 1, Limit: 2})
	assert.Equal(t, []int{1, 2}, page)
	assert.Equal(t, PageInfo{Page: 1, Limit: 2, Total: 5, HasMore: true}, info)

	page, info = Slice(items, Pagination{Page: 3, Limit: 2})
	assert.Equal(t, []int{5}, page)
	assert.False(t, info.HasMore)

	page, _ = Slice(items, Pagination{Page: 9, Limit: 2})
	assert.Empty(t, page)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Pagination{Page: 1, Limit: DefaultLimit}, Pagination{}.Normalize())
	assert.Equal(t, MaxLimit, Pagination{Page: 2, Limit: 10000}.Normalize().Limit)
	assert.Equal(t, 20, Pagination{Page: 3, Limit: 10}.Offset())
}
