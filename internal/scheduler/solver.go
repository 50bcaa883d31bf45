package scheduler

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Status is the terminal state of a solve.
type Status string

const (
	StatusSolved  Status = "SOLVED"
	StatusPartial Status = "PARTIAL"
)

// Options bound the search.
type Options struct {
	MaxBacktracks int
	TimeBudget    time.Duration
}

// DefaultOptions is the budget used when a field is left zero.
var DefaultOptions = Options{MaxBacktracks: 20000, TimeBudget: 10 * time.Second}

func (o Options) withDefaults() Options {
	if o.MaxBacktracks <= 0 {
		o.MaxBacktracks = DefaultOptions.MaxBacktracks
	}
	if o.TimeBudget <= 0 {
		o.TimeBudget = DefaultOptions.TimeBudget
	}
	return o
}

// Unresolved is a unit that did not receive all of its sessions.
type Unresolved struct {
	UnitID   string
	Required int
	Placed   int
	// Excluded is set when the unit never entered the search because its
	// initial domain could not hold all of its sessions.
	Excluded bool
}

// Stats describes the work a solve performed.
type Stats struct {
	Nodes           int
	Backtracks      int
	Rounds          int
	Duration        time.Duration
	BudgetExhausted bool
}

// Result is the best assignment found for a model.
type Result struct {
	Status      Status
	Assignments []Assignment
	Unresolved  []Unresolved
	Stats       Stats

	partial *Partial
}

// Partial exposes the occupancy of the returned solution, fixed assignments included.
func (r *Result) Partial() *Partial { return r.partial }

var errBudgetExhausted = errors.New("search budget exhausted")

// Solve runs a bounded backtracking search over the model. Units are chosen most
// constrained first and values by ascending soft cost, with ties broken on unit id,
// time block and classroom so that identical inputs yield identical schedules.
//
// When the search tree is exhausted without a full schedule, the unit that most often
// caused a dead end is set aside and the search restarts on the rest. Leftover sessions
// are then placed greedily where the final schedule still has room.
//
// A cancelled context aborts the solve at the next checkpoint and no result is returned.
func Solve(ctx context.Context, m *Model, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	started := time.Now()
	b := &budget{
		ctx:           ctx,
		maxBacktracks: opts.MaxBacktracks,
		deadline:      started.Add(opts.TimeBudget),
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	active := make([]bool, len(m.units))
	for u := range active {
		active[u] = true
	}
	excluded := make([]bool, len(m.units))

	var best []Candidate
	for round := 0; ; round++ {
		s := newSearch(m, active)
		if round == 0 {
			for u := range m.units {
				if s.distinct[u] < m.units[u].Sessions {
					excluded[u] = true
					s.deactivate(u)
				}
			}
		}
		b.rounds++

		out, err := s.run(b)
		if err != nil {
			return nil, err
		}
		best = s.best
		if out != outcomeExhausted {
			break
		}
		culprit := s.culprit()
		if culprit < 0 {
			break
		}
		active[culprit] = false
	}

	partial := m.NewPartial()
	for _, c := range best {
		partial.Place(c)
	}
	fillGreedy(m, partial)

	result := &Result{
		Status:      StatusSolved,
		Assignments: partial.Assignments(),
		partial:     partial,
		Stats: Stats{
			Nodes:           b.nodes,
			Backtracks:      b.backtracks,
			Rounds:          b.rounds,
			Duration:        time.Since(started),
			BudgetExhausted: b.exhausted,
		},
	}
	for u, unit := range m.units {
		if placed := partial.PlacedFor(u); placed < unit.Sessions {
			result.Status = StatusPartial
			result.Unresolved = append(result.Unresolved, Unresolved{
				UnitID:   unit.ID,
				Required: unit.Sessions,
				Placed:   placed,
				Excluded: excluded[u],
			})
		}
	}
	return result, nil
}

type budget struct {
	ctx           context.Context
	maxBacktracks int
	deadline      time.Time

	nodes      int
	backtracks int
	rounds     int
	exhausted  bool
}

func (b *budget) checkpoint() error {
	if err := b.ctx.Err(); err != nil {
		return err
	}
	if b.backtracks >= b.maxBacktracks || time.Now().After(b.deadline) {
		b.exhausted = true
		return errBudgetExhausted
	}
	return nil
}

type outcome int

const (
	outcomeSolved outcome = iota
	outcomeExhausted
	outcomeBudget
)

type option struct {
	unit  int
	room  int
	block int
}

type frame struct {
	values    []int
	next      int
	placed    bool
	trailMark int
}

// search holds the domains of one round. Each option is a statically feasible candidate;
// alive marks the ones still consistent with the current partial solution.
type search struct {
	m       *Model
	partial *Partial
	active  []bool

	options    []option
	unitRange  [][2]int
	byBlock    [][]int
	alive      []bool
	aliveCount []int
	blockCount []int
	distinct   []int
	trail      []int

	teacherUnits [][]int
	remaining    int
	failures     []int
	best         []Candidate
}

func newSearch(m *Model, active []bool) *search {
	nb := len(m.blocks)
	s := &search{
		m:            m,
		partial:      m.NewPartial(),
		active:       active,
		unitRange:    make([][2]int, len(m.units)),
		byBlock:      make([][]int, nb),
		aliveCount:   make([]int, len(m.units)),
		blockCount:   make([]int, len(m.units)*nb),
		distinct:     make([]int, len(m.units)),
		teacherUnits: make([][]int, len(m.teachers)),
		failures:     make([]int, len(m.units)),
	}
	for u := range m.units {
		s.unitRange[u][0] = len(s.options)
		if active[u] {
			s.teacherUnits[m.unitTeacher[u]] = append(s.teacherUnits[m.unitTeacher[u]], u)
			s.remaining += m.units[u].Sessions
			rooms := m.CandidateRooms(u)
			for blk := 0; blk < nb; blk++ {
				for _, r := range rooms {
					c := Candidate{Unit: u, Room: r, Block: blk}
					if !m.IsHardFeasible(c, s.partial) {
						continue
					}
					id := len(s.options)
					s.options = append(s.options, option{unit: u, room: r, block: blk})
					s.byBlock[blk] = append(s.byBlock[blk], id)
					s.aliveCount[u]++
					if s.blockCount[u*nb+blk] == 0 {
						s.distinct[u]++
					}
					s.blockCount[u*nb+blk]++
				}
			}
		}
		s.unitRange[u][1] = len(s.options)
	}
	s.alive = make([]bool, len(s.options))
	for i := range s.alive {
		s.alive[i] = true
	}
	return s
}

func (s *search) deactivate(u int) {
	if !s.active[u] {
		return
	}
	s.active[u] = false
	s.remaining -= s.m.units[u].Sessions
	t := s.m.unitTeacher[u]
	units := s.teacherUnits[t][:0]
	for _, v := range s.teacherUnits[t] {
		if v != u {
			units = append(units, v)
		}
	}
	s.teacherUnits[t] = units
}

func (s *search) kill(o int) {
	if !s.alive[o] {
		return
	}
	opt := s.options[o]
	s.alive[o] = false
	s.aliveCount[opt.unit]--
	k := opt.unit*len(s.m.blocks) + opt.block
	s.blockCount[k]--
	if s.blockCount[k] == 0 {
		s.distinct[opt.unit]--
	}
	s.trail = append(s.trail, o)
}

func (s *search) restore(mark int) {
	for len(s.trail) > mark {
		o := s.trail[len(s.trail)-1]
		s.trail = s.trail[:len(s.trail)-1]
		opt := s.options[o]
		s.alive[o] = true
		s.aliveCount[opt.unit]++
		k := opt.unit*len(s.m.blocks) + opt.block
		if s.blockCount[k] == 0 {
			s.distinct[opt.unit]++
		}
		s.blockCount[k]++
	}
}

// place commits an option and prunes every domain it invalidates.
func (s *search) place(o int) {
	m := s.m
	opt := s.options[o]
	s.partial.Place(Candidate{Unit: opt.unit, Room: opt.room, Block: opt.block})
	s.remaining--

	// later sessions of the same unit go to strictly later blocks
	for i := s.unitRange[opt.unit][0]; i < s.unitRange[opt.unit][1]; i++ {
		if s.options[i].block > opt.block {
			break
		}
		s.kill(i)
	}

	t := m.unitTeacher[opt.unit]
	for _, i := range s.byBlock[opt.block] {
		other := s.options[i]
		if m.unitTeacher[other.unit] == t || (opt.room != NoRoom && other.room == opt.room) {
			s.kill(i)
		}
	}

	limit := m.teachers[t].MaxSessionsPerDay
	day := m.blockDay[opt.block]
	if limit > 0 && s.partial.teacherDay[t*len(m.days)+day] >= limit {
		for _, u := range s.teacherUnits[t] {
			for i := s.unitRange[u][0]; i < s.unitRange[u][1]; i++ {
				if m.blockDay[s.options[i].block] == day {
					s.kill(i)
				}
			}
		}
	}
}

// consistent reports whether every open unit can still fit its remaining sessions.
func (s *search) consistent() bool {
	for u, unit := range s.m.units {
		if !s.active[u] {
			continue
		}
		need := unit.Sessions - s.partial.PlacedFor(u)
		if need > 0 && s.distinct[u] < need {
			s.failures[u]++
			return false
		}
	}
	return true
}

// selectUnit picks the open unit with the fewest live options, lowest index first.
func (s *search) selectUnit() int {
	selected := -1
	for u, unit := range s.m.units {
		if !s.active[u] || s.partial.PlacedFor(u) >= unit.Sessions {
			continue
		}
		if selected < 0 || s.aliveCount[u] < s.aliveCount[selected] {
			selected = u
		}
	}
	return selected
}

func (s *search) newFrame(u int) frame {
	type scored struct {
		id   int
		cost int
	}
	var values []scored
	for i := s.unitRange[u][0]; i < s.unitRange[u][1]; i++ {
		if !s.alive[i] {
			continue
		}
		opt := s.options[i]
		c := Candidate{Unit: opt.unit, Room: opt.room, Block: opt.block}
		if !s.m.IsHardFeasible(c, s.partial) {
			continue
		}
		values = append(values, scored{id: i, cost: s.m.SoftCost(c, s.partial)})
	}
	sort.SliceStable(values, func(i, j int) bool {
		if values[i].cost != values[j].cost {
			return values[i].cost < values[j].cost
		}
		a, b := s.options[values[i].id], s.options[values[j].id]
		if a.block != b.block {
			return a.block < b.block
		}
		return a.room < b.room
	})
	f := frame{values: make([]int, len(values))}
	for i, v := range values {
		f.values[i] = v.id
	}
	return f
}

func (s *search) recordBest() {
	if s.partial.Placed() > len(s.best) {
		s.best = s.partial.Candidates()
	}
}

func (s *search) run(b *budget) (outcome, error) {
	if s.remaining == 0 {
		return outcomeSolved, nil
	}
	if !s.consistent() {
		return outcomeExhausted, nil
	}
	stack := []frame{s.newFrame(s.selectUnit())}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.placed {
			s.partial.Undo()
			s.remaining++
			s.restore(top.trailMark)
			top.placed = false
			b.backtracks++
			if err := b.checkpoint(); err != nil {
				if errors.Is(err, errBudgetExhausted) {
					return outcomeBudget, nil
				}
				return outcomeBudget, err
			}
		}
		if top.next >= len(top.values) {
			stack = stack[:len(stack)-1]
			continue
		}

		o := top.values[top.next]
		top.next++
		top.trailMark = len(s.trail)
		s.place(o)
		top.placed = true
		s.recordBest()
		b.nodes++
		if b.nodes%1024 == 0 {
			if err := b.checkpoint(); err != nil {
				if errors.Is(err, errBudgetExhausted) {
					return outcomeBudget, nil
				}
				return outcomeBudget, err
			}
		}

		if s.remaining == 0 {
			return outcomeSolved, nil
		}
		if !s.consistent() {
			continue
		}
		stack = append(stack, s.newFrame(s.selectUnit()))
	}
	return outcomeExhausted, nil
}

// culprit is the open unit behind the most dead ends.
func (s *search) culprit() int {
	selected := -1
	for u, unit := range s.m.units {
		if !s.active[u] || unit.Sessions == 0 {
			continue
		}
		if selected < 0 || s.failures[u] > s.failures[selected] {
			selected = u
		}
	}
	return selected
}

// fillGreedy places leftover sessions at their cheapest feasible candidate, units in id order.
// When no candidate is left it falls back to swapping classrooms at a block.
func fillGreedy(m *Model, p *Partial) {
	for u, unit := range m.units {
		rooms := m.CandidateRooms(u)
		for p.PlacedFor(u) < unit.Sessions {
			bestCost := -1
			var best Candidate
			for blk := range m.blocks {
				for _, r := range rooms {
					c := Candidate{Unit: u, Room: r, Block: blk}
					if !m.IsHardFeasible(c, p) {
						continue
					}
					if cost := m.SoftCost(c, p); bestCost < 0 || cost < bestCost {
						bestCost = cost
						best = c
					}
				}
			}
			if bestCost < 0 {
				if !rematchRooms(m, p, u) {
					break
				}
				continue
			}
			p.Place(best)
		}
	}
}
