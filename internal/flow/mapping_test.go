package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathMapper_SourcePaths(t *testing.T) {
	mapper := NewPathMapper()

	input := map[string]any{
		"user": map[string]any{
			"full_name": "Ada Lovelace",
			"contact":   map[string]any{"email": "ada@example.com"},
		},
		"amount": 42.5,
	}

	out, err := mapper.Apply(context.Background(), map[string]any{
		"customer.name":  "$.user.full_name",
		"customer.email": "$.user.contact.email",
		"total":          "$.amount",
		"source":         "hub",
		"version":        2,
	}, input)
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok)

	customer, ok := m["customer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", customer["name"])
	assert.Equal(t, "ada@example.com", customer["email"])
	assert.Equal(t, 42.5, m["total"])
	assert.Equal(t, "hub", m["source"])
	assert.Equal(t, float64(2), m["version"])
}

func TestPathMapper_MissingSourcePath(t *testing.T) {
	mapper := NewPathMapper()

	_, err := mapper.Apply(context.Background(), map[string]any{
		"name": "$.user.name",
	}, map[string]any{"user": map[string]any{}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "user.name")
}

func TestPathMapper_LiteralDollarString(t *testing.T) {
	mapper := NewPathMapper()

	// A bare "$." is not a path; anything without the prefix is a literal.
	out, err := mapper.Apply(context.Background(), map[string]any{
		"price": "$19.99",
	}, map[string]any{})
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "$19.99", m["price"])
}
