package pagination

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token := EncodeCursor(snowflake.ID(1780000000000000001))
	id, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(1780000000000000001), id)

	id, err = DecodeCursor("")
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestPage(t *testing.T) {
	ids := []snowflake.ID{50, 40, 30}
	extract := func(id snowflake.ID) snowflake.ID { return id }

	kept, info := Page(ids, 2, extract)
	assert.Equal(t, []snowflake.ID{50, 40}, kept)
	assert.True(t, info.HasMore)
	next, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(40), next)

	kept, info = Page(ids, 3, extract)
	assert.Len(t, kept, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}
