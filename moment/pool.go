// Package moment keeps raster checkpoints: tile snapshots of the canvas
// taken at known log positions, compacted as they age and used to rebuild
// the canvas when the log reports a desync.
package moment

import (
	"github.com/drpcorg/mural/canvas"
	"github.com/drpcorg/mural/utils"
)

// TileID indexes a tile in the Pool arena.
type TileID int32

const slabTiles = 64

// Pool is an arena of fixed-size RGBA tiles. Tiles are allocated in slabs
// and recycled through a min-heap of free ids, so low ids get reused first
// and the arena stays compact.
type Pool struct {
	shift   int
	tileLen int
	slabs   [][]byte
	next    TileID
	free    utils.Heap[TileID]
	blank   TileID
	live    int
}

func NewPool(shift int) *Pool {
	side := 1 << shift
	p := &Pool{shift: shift, tileLen: side * side * 4}
	p.blank = p.NewChunk()
	tile := p.Tile(p.blank)
	for i := 0; i < len(tile); i += 4 {
		tile[i], tile[i+1], tile[i+2], tile[i+3] = canvas.Blank.R, canvas.Blank.G, canvas.Blank.B, canvas.Blank.A
	}
	p.live = 0
	return p
}

func (p *Pool) Shift() int {
	return p.shift
}

func (p *Pool) TileLen() int {
	return p.tileLen
}

// NewChunk hands out a tile; its contents are unspecified.
func (p *Pool) NewChunk() TileID {
	p.live++
	if p.free.Len() > 0 {
		return p.free.Pop()
	}
	id := p.next
	p.next++
	if int(id)/slabTiles >= len(p.slabs) {
		p.slabs = append(p.slabs, make([]byte, slabTiles*p.tileLen))
	}
	return id
}

// RecycleChunk returns a tile to the free list. The blank tile is never freed.
func (p *Pool) RecycleChunk(id TileID) {
	if id == p.blank || id < 0 || id >= p.next {
		return
	}
	p.live--
	p.free.Push(id)
}

func (p *Pool) Tile(id TileID) []byte {
	slab := p.slabs[int(id)/slabTiles]
	off := (int(id) % slabTiles) * p.tileLen
	return slab[off : off+p.tileLen : off+p.tileLen]
}

// Blank is a shared read-only tile of untouched canvas.
func (p *Pool) Blank() TileID {
	return p.blank
}

// Live is the number of tiles handed out and not recycled.
func (p *Pool) Live() int {
	return p.live
}

// Capacity is the number of tiles ever allocated, blank included.
func (p *Pool) Capacity() int {
	return int(p.next)
}
