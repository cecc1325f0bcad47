package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "only separators", input: " , ,", expected: []string{}},
		{name: "single broker", input: "localhost:9092", expected: []string{"localhost:9092"}},
		{name: "trims entries", input: " a:9092 , b:9092", expected: []string{"a:9092", "b:9092"}},
		{name: "drops repeats in order", input: "b,a,b", expected: []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitList(tt.input, ","))
		})
	}
}

func TestDedupeAndTrim(t *testing.T) {
	assert.Nil(t, DedupeAndTrim(nil))
	assert.Equal(t, []string{}, DedupeAndTrim([]string{}))
	assert.Equal(t, []string{"foo", "bar"}, DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "}))
}

func TestIsDigits(t *testing.T) {
	assert.True(t, IsDigits("01234567"))
	assert.False(t, IsDigits(""))
	assert.False(t, IsDigits("12-34-56"))
	assert.False(t, IsDigits("١٢٣"))
	assert.False(t, IsDigits(" 123"))
}
