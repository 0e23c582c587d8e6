package visited

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_VisitAndReset(t *testing.T) {
	s := New(128)

	assert.False(t, s.Visited(7))
	s.Visit(7)
	s.Visit(64)
	assert.True(t, s.Visited(7))
	assert.True(t, s.Visited(64))
	assert.False(t, s.Visited(8))

	s.Reset()
	assert.False(t, s.Visited(7))
	assert.False(t, s.Visited(64))
}

func TestSet_GrowBeyondCapacity(t *testing.T) {
	s := New(8)

	s.Visit(1000)
	assert.True(t, s.Visited(1000))
	assert.False(t, s.Visited(999))
}

func TestSet_DoubleVisit(t *testing.T) {
	s := New(8)

	s.Visit(3)
	s.Visit(3)
	s.Reset()
	assert.False(t, s.Visited(3))
}
