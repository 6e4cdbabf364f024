package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchArgs struct {
	Query   string   `json:"query" description:"search terms"`
	Limit   int      `json:"limit,omitempty"`
	Sort    string   `json:"sort" enum:"asc,desc"`
	Tags    []string `json:"tags,omitempty"`
	Filter  *filter  `json:"filter"`
	Ignored string   `json:"-"`
	hidden  string
}

type filter struct {
	MinScore float64 `json:"min_score"`
}

func TestObjectSchema(t *testing.T) {
	schema := ObjectSchema(&searchArgs{})

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"query", "sort"}, schema["required"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, props, 5)
	assert.NotContains(t, props, "Ignored")
	assert.NotContains(t, props, "hidden")

	query := props["query"].(map[string]any)
	assert.Equal(t, "string", query["type"])
	assert.Equal(t, "search terms", query["description"])

	assert.Equal(t, "integer", props["limit"].(map[string]any)["type"])
	assert.Equal(t, []string{"asc", "desc"}, props["sort"].(map[string]any)["enum"])

	tags := props["tags"].(map[string]any)
	assert.Equal(t, "array", tags["type"])
	assert.Equal(t, map[string]any{"type": "string"}, tags["items"])

	nested := props["filter"].(map[string]any)
	assert.Equal(t, "object", nested["type"])
	assert.Equal(t, []string{"min_score"}, nested["required"])
}

func TestObjectSchema_NonStruct(t *testing.T) {
	schema := ObjectSchema("text")
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, schema)
	assert.Equal(t, "object", ObjectSchema(nil)["type"])
}

func TestValidateArguments(t *testing.T) {
	schema := ObjectSchema(searchArgs{})

	require.NoError(t, ValidateArguments(map[string]any{"query": "go", "sort": "asc", "limit": float64(3)}, schema))
	require.NoError(t, ValidateArguments(map[string]any{"query": "go", "sort": "asc", "extra": true}, schema))

	err := ValidateArguments(map[string]any{"sort": "asc"}, schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "query", verr.Field)

	err = ValidateArguments(map[string]any{"query": "go", "sort": "asc", "limit": 1.5}, schema)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "limit", verr.Field)

	// required lists decoded from JSON arrive as []any
	decoded := map[string]any{"required": []any{"query"}}
	assert.Error(t, ValidateArguments(map[string]any{}, decoded))
}
