package voxel

import (
	"github.com/annel0/pagedvolume/internal/vec"
)

// pageEvent запись о вызове пейджера
type pageEvent struct {
	Op    string // "in" или "out"
	Coord vec.Vec3
}

// recordingPager процедурно заполняет чанки значением от координат,
// запоминает все вызовы и сохраняет выгруженные данные, чтобы повторная загрузка
// вернула записанное.
type recordingPager struct {
	events []pageEvent
	saved  map[vec.Vec3][]Voxel
}

func newRecordingPager() *recordingPager {
	return &recordingPager{saved: make(map[vec.Vec3][]Voxel)}
}

// patternVoxel детерминированное значение вокселя по глобальным координатам
func patternVoxel(x, y, z int32) Voxel {
	return Voxel{
		Material: MaterialType(uint32(x+y+z) & 7),
		Color:    uint8(x*7 + y*13 + z*17),
	}
}

func (p *recordingPager) PageIn(region Region, chunk *Chunk[Voxel]) {
	p.events = append(p.events, pageEvent{Op: "in", Coord: chunk.Coord()})

	if data, ok := p.saved[chunk.Coord()]; ok {
		copy(chunk.Data(), data)
		return
	}

	side := chunk.SideLength()
	for z := uint16(0); z < side; z++ {
		for y := uint16(0); y < side; y++ {
			for x := uint16(0); x < side; x++ {
				chunk.SetVoxel(x, y, z, patternVoxel(
					region.Lower.X+int32(x),
					region.Lower.Y+int32(y),
					region.Lower.Z+int32(z),
				))
			}
		}
	}
}

func (p *recordingPager) PageOut(region Region, chunk *Chunk[Voxel]) {
	p.events = append(p.events, pageEvent{Op: "out", Coord: chunk.Coord()})
	p.saved[chunk.Coord()] = append([]Voxel(nil), chunk.Data()...)
}

// count число вызовов op для чанка coord
func (p *recordingPager) count(op string, coord vec.Vec3) int {
	n := 0
	for _, e := range p.events {
		if e.Op == op && e.Coord == coord {
			n++
		}
	}
	return n
}

// total общее число вызовов op
func (p *recordingPager) total(op string) int {
	n := 0
	for _, e := range p.events {
		if e.Op == op {
			n++
		}
	}
	return n
}

// eventsFor вызовы для одного чанка в порядке следования
func (p *recordingPager) eventsFor(coord vec.Vec3) []string {
	var ops []string
	for _, e := range p.events {
		if e.Coord == coord {
			ops = append(ops, e.Op)
		}
	}
	return ops
}

// countingMetrics считает события наблюдателя
type countingMetrics struct {
	resolves  map[ResolveResult]int
	evictions int
	dirty     int
	resident  int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{resolves: make(map[ResolveResult]int)}
}

func (m *countingMetrics) ObserveResolve(r ResolveResult) { m.resolves[r]++ }

func (m *countingMetrics) ObserveEviction(dirty bool) {
	m.evictions++
	if dirty {
		m.dirty++
	}
}

func (m *countingMetrics) SetResidentChunks(n int) { m.resident = n }
