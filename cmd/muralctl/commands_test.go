package main

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drpcorg/mural/txn"
)

func TestParseColor(t *testing.T) {
	c, err := parseColor("#ff8000")
	assert.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, G: 128, A: 255}, c)
	c, err = parseColor("0000ff80")
	assert.NoError(t, err)
	assert.Equal(t, color.RGBA{B: 255, A: 128}, c)
	_, err = parseColor("fff")
	assert.Error(t, err)
}

func TestParsePoints(t *testing.T) {
	pts, err := parsePoints([]string{"1,2", "-3,40"})
	assert.NoError(t, err)
	assert.Equal(t, []txn.Point{{X: 1, Y: 2}, {X: -3, Y: 40}}, pts)
	_, err = parsePoints([]string{"1;2"})
	assert.Error(t, err)
}

func TestUndoNeedsSession(t *testing.T) {
	repl := &REPL{}
	assert.ErrorIs(t, repl.CommandUndo(nil, false), ErrNotConnected)
	assert.ErrorIs(t, repl.CommandLine([]string{"ff0000", "2", "0,0", "1,1"}), ErrNotConnected)
}
