package scheduler

import (
	"github.com/onsi/gomega/matchers/support/goraph/bipartitegraph"
	"github.com/samber/lo"
)

// rematchRooms tries to make room for one more session of unit u at a block where the
// only obstacle is that every compatible classroom is taken by this run. Sessions already
// placed at that block are matched again against the free classrooms; when a perfect
// matching exists their rooms are swapped and the new session is placed.
func rematchRooms(m *Model, p *Partial, u int) bool {
	for blk := range m.blocks {
		if !blockedOnlyByRooms(m, p, u, blk) {
			continue
		}
		if rematchAt(m, p, u, blk) {
			return true
		}
	}
	return false
}

func blockedOnlyByRooms(m *Model, p *Partial, u, blk int) bool {
	blocked := false
	for _, r := range m.CandidateRooms(u) {
		if r == NoRoom {
			return false
		}
		v := m.Check(Candidate{Unit: u, Room: r, Block: blk}, p)
		switch {
		case v == nil:
			return false
		case v.Reason == ReasonClassroomDoubleBook:
			blocked = true
		case v.Reason == ReasonCapacity || v.Reason == ReasonTypeMismatch:
		default:
			return false
		}
	}
	return blocked
}

func rematchAt(m *Model, p *Partial, u, blk int) bool {
	nb := len(m.blocks)
	sessions := lo.Filter(lo.Range(len(p.placed)), func(i int, _ int) bool {
		c := p.placed[i].candidate
		return c.Block == blk && c.Room != NoRoom
	})
	units := append(lo.Map(sessions, func(i int, _ int) int { return p.placed[i].candidate.Unit }), u)
	rooms := lo.Filter(lo.Range(len(m.rooms)), func(r int, _ int) bool {
		ref := p.roomAt[r*nb+blk]
		return ref == 0 || !p.occupants[ref-1].Fixed
	})
	if len(rooms) < len(units) {
		return false
	}

	left := lo.Map(lo.Range(len(units)), func(i int, _ int) any { return i })
	right := lo.Map(rooms, func(r int, _ int) any { return r })
	neighbours := func(l, r any) (bool, error) {
		return m.StaticCheck(units[l.(int)], r.(int)) == nil, nil
	}
	graph, err := bipartitegraph.NewBipartiteGraph(left, right, neighbours)
	if err != nil {
		return false
	}
	matching := graph.LargestMatching()
	if len(matching) < len(units) {
		return false
	}

	assigned := make([]int, len(units))
	for _, edge := range matching {
		l, r := edge.Node1, edge.Node2
		if l >= len(units) {
			l, r = r, l
		}
		assigned[l] = rooms[r-len(units)]
	}
	for _, i := range sessions {
		p.roomAt[p.placed[i].candidate.Room*nb+blk] = 0
	}
	for k, i := range sessions {
		p.moveRoom(i, assigned[k])
	}
	p.Place(Candidate{Unit: u, Room: assigned[len(units)-1], Block: blk})
	return true
}

// moveRoom changes the classroom of a placed session. The previous room cell must
// already be cleared by the caller.
func (p *Partial) moveRoom(placedIdx, room int) {
	m := p.model
	pl := &p.placed[placedIdx]
	pl.candidate.Room = room
	p.occupants[pl.occupant].ClassroomID = m.rooms[room].ID
	p.roomAt[room*len(m.blocks)+pl.candidate.Block] = pl.occupant + 1
}
