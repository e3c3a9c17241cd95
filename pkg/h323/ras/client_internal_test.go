package ras

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextSeqSkipsZero(t *testing.T) {
	c := New(DefaultConfig(), nil)
	c.seq = 0xFFFE
	assert.Equal(t, uint16(0xFFFF), c.nextSeq())
	assert.Equal(t, uint16(1), c.nextSeq())
	assert.Equal(t, uint16(2), c.nextSeq())
}
