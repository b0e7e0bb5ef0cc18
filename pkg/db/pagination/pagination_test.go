package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	id int64
	ts int64
}

func TestBuildCursorPageInfoTrimsExtraRow(t *testing.T) {
	rows := []*row{{3, 30}, {2, 20}, {1, 10}}

	page, info := BuildCursorPageInfo(rows, 2, func(r *row) Cursor {
		return Cursor{ID: r.id, SortKey: r.ts}
	})
	require.Len(t, page, 2)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, Cursor{ID: 2, SortKey: 20}, *cursor)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidPageToken)

	cursor, err := DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestSizeClamps(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Size())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Size())
	assert.Equal(t, 7, Pagination{PageSize: 7}.Size())
}
