package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasAny(t *testing.T) {
	assert.True(t, HasAny("over_query_limit reached", "zero_results", "over_query_limit"))
	assert.False(t, HasAny("request denied", "zero_results"))
	assert.False(t, HasAny("anything"))
	assert.False(t, HasAny("ZERO_RESULTS", "zero_results"), "matching is case-sensitive")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "New York", Normalize("  New   York\t"))
	assert.Equal(t, "", Normalize(" \n "))
}
