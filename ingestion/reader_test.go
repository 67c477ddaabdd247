package ingestion

import (
	"strings"
	"testing"

	"github.com/poiesic/needmatch/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadItems_JSONLines(t *testing.T) {
	input := `
{"id":"2401.00001","title":"Graph networks","body":"abstract","url":"https://arxiv.org/pdf/2401.00001","authors":"A. Author"}
{"id":"achievement_7","title":"Defect detector","industry":"manufacturing"}
{"id":"published_need_3","kind":"Requirement","title":"Need","status":"active"}
`
	items, err := ReadItems(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "2401.00001", items[0].ID)
	assert.Equal(t, core.Kind(""), items[0].Kind, "kind is inferred later")
	assert.Equal(t, "A. Author", items[0].Meta["authors"])
	assert.Equal(t, "manufacturing", items[1].Meta["industry"])
	assert.Equal(t, core.KindRequirement, items[2].Kind)
	assert.Equal(t, "active", items[2].Meta["status"])
}

func TestReadItems_Array(t *testing.T) {
	items, err := ReadItems(strings.NewReader(`  [{"id":"a","title":"A"},{"id":"b","title":"B"}]`))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[1].ID)
	assert.Nil(t, items[0].Meta)
}

func TestReadItems_Empty(t *testing.T) {
	items, err := ReadItems(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestReadItems_Malformed(t *testing.T) {
	_, err := ReadItems(strings.NewReader("{\"id\":\"a\",\"title\":\"A\"}\n{\"id\":"))
	require.ErrorIs(t, err, ErrMalformedRecord)
	assert.Contains(t, err.Error(), "record 2")

	_, err = ReadItems(strings.NewReader(`[{"id":1}]`))
	assert.ErrorIs(t, err, ErrMalformedRecord)
}
