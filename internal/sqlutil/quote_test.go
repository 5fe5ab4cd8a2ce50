package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"cars", "`cars`"},
		{"engine_id", "`engine_id`"},
		{"select", "`select`"},
		{"first name", "`first name`"},
		{"car`id", "`car``id`"},
		{"a`b`c", "`a``b``c`"},
		{"", "``"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteIdentifier(tt.input))
		})
	}
}

func TestQuoteIdentifiers(t *testing.T) {
	assert.Equal(t, []string{"`id`", "`car_id`"}, QuoteIdentifiers("id", "car_id"))
	assert.Empty(t, QuoteIdentifiers())
}

func TestQualifiedName(t *testing.T) {
	assert.Equal(t, "`cars`", QualifiedName("", "cars"))
	assert.Equal(t, "`shop`.`cars`", QualifiedName("shop", "cars"))
	assert.Equal(t, "`we``ird`.`t`", QualifiedName("we`ird", "t"))
}
