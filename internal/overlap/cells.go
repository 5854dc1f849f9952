package overlap

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/repository"
)

// Lock grid defaults
const (
	// DefaultCellDegrees is the edge of one lock cell, roughly 1.1 km at the equator.
	DefaultCellDegrees = 0.01
	// MaxLockCells is the largest number of cells locked individually. Larger
	// boundaries lock the whole grid.
	MaxLockCells = 256
)

// GlobalLockKey guards the grid as a whole. Every gated transaction holds it
// shared; oversized boundaries hold it exclusively.
const GlobalLockKey int64 = 0x70617263656c00

// Cell is one square of the lock grid, indexed by floor(degrees / cell size).
type Cell struct {
	Row int64 // latitude index
	Col int64 // longitude index
}

// Grid maps bounding boxes to lock cells.
type Grid struct {
	cellDegrees float64
}

// NewGrid creates a lock grid. A non-positive size selects DefaultCellDegrees.
func NewGrid(cellDegrees float64) *Grid {
	if cellDegrees <= 0 {
		cellDegrees = DefaultCellDegrees
	}
	return &Grid{cellDegrees: cellDegrees}
}

// Cells returns every cell the bounding box touches, edges included, or
// nil when there are more than MaxLockCells of them. Any two boxes with a
// common point share at least one cell.
func (g *Grid) Cells(b geometry.Bounds) []Cell {
	r0, r1 := g.index(b.MinLat), g.index(b.MaxLat)
	c0, c1 := g.index(b.MinLng), g.index(b.MaxLng)
	rows, cols := r1-r0+1, c1-c0+1
	if rows <= 0 || cols <= 0 || rows > MaxLockCells || cols > MaxLockCells || rows*cols > MaxLockCells {
		return nil
	}

	cells := make([]Cell, 0, rows*cols)
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			cells = append(cells, Cell{Row: r, Col: c})
		}
	}
	return cells
}

// Locks returns the lock set that serializes writers whose boundaries may
// overlap b.
func (g *Grid) Locks(b geometry.Bounds) repository.LockSet {
	cells := g.Cells(b)
	if cells == nil {
		return repository.LockSet{Exclusive: []int64{GlobalLockKey}}
	}
	keys := make([]int64, len(cells))
	for i, c := range cells {
		keys[i] = c.Key()
	}
	return repository.LockSet{Shared: []int64{GlobalLockKey}, Exclusive: keys}
}

func (g *Grid) index(deg float64) int64 {
	return int64(math.Floor(deg / g.cellDegrees))
}

// Key is the advisory lock key of the cell.
func (c Cell) Key() int64 {
	var buf [17]byte
	buf[0] = 'c'
	binary.BigEndian.PutUint64(buf[1:9], uint64(c.Row))
	binary.BigEndian.PutUint64(buf[9:], uint64(c.Col))
	return hashKey(buf[:])
}

// TicketLockKey is the advisory lock key serializing resolutions of one ticket.
func TicketLockKey(id uuid.UUID) int64 {
	var buf [17]byte
	buf[0] = 't'
	copy(buf[1:], id[:])
	return hashKey(buf[:])
}

func hashKey(b []byte) int64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	key := int64(h.Sum64())
	if key == GlobalLockKey {
		key++
	}
	return key
}
