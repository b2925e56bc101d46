package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttachment(t *testing.T) {
	var a Attachment

	// one sentence: two of three governors correct, both with the
	// right relation
	a.Add(
		[]int{1, -1, 0}, []int{0, -1, 2},
		[]int{1, -1, 1}, []int{0, -1, 1},
	)
	assert.Equal(t, 3, a.Tokens)
	assert.InDelta(t, 2.0/3.0, a.UAS(), 1e-9)
	assert.InDelta(t, 2.0/3.0, a.LAS(), 1e-9)

	// roots compare by head only
	a.Add([]int{-1}, []int{-1}, []int{-1}, []int{5})
	assert.Equal(t, 4, a.Tokens)
	assert.Equal(t, 3, a.HeadsCorrect)
	assert.Equal(t, 3, a.ArcsCorrect)
}

func TestAttachmentEmpty(t *testing.T) {
	var a Attachment
	assert.Equal(t, 0.0, a.UAS())
	assert.Equal(t, 0.0, a.LAS())
}

func TestPrecisionRecallF1(t *testing.T) {
	p := Precision(8, 10)
	r := Recall(8, 16)
	assert.InDelta(t, 0.8, p, 1e-9)
	assert.InDelta(t, 0.5, r, 1e-9)
	assert.InDelta(t, 2*0.8*0.5/1.3, F1(p, r), 1e-9)

	assert.Equal(t, 0.0, Precision(0, 0))
	assert.Equal(t, 0.0, Recall(0, 0))
	assert.Equal(t, 0.0, F1(0, 0))
}
