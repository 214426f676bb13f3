package scoring

import (
	"fmt"
	"slices"
	"strings"
)

// MaxDice is the largest roll the engine evaluates.
const MaxDice = 6

// Counts is a face-count vector: Counts[f-1] is the number of dice showing f.
type Counts [6]uint8

// CountFaces builds the count vector of faces.
//
// Precondition: every face is in [1, 6].
func CountFaces(faces []int) Counts {
	var c Counts
	for _, f := range faces {
		c[f-1]++
	}
	return c
}

// Total returns the number of dice counted.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += int(v)
	}
	return n
}

// Faces returns the counted faces in ascending order.
func (c Counts) Faces() []int {
	out := make([]int, 0, c.Total())
	for i, v := range c {
		for j := uint8(0); j < v; j++ {
			out = append(out, i+1)
		}
	}
	return out
}

// key packs a count vector with Total() <= MaxDice into [0, 7^6).
func (c Counts) key() int {
	k := 0
	for i := len(c) - 1; i >= 0; i-- {
		k = k*7 + int(c[i])
	}
	return k
}

const keySpace = 7 * 7 * 7 * 7 * 7 * 7

// Combo is one rule application inside a score.
type Combo struct {
	RuleID string
	Name   string
	Faces  []int
	Points int
}

// Breakdown is the score of a multiset of faces under the rule table.
type Breakdown struct {
	Points int
	Combos []Combo
	// Used is the number of dice that contributed to Points.
	Used int
}

// String describes the breakdown, e.g. "Partial straight (1-5) + Single 1".
func (b Breakdown) String() string {
	if len(b.Combos) == 0 {
		return "No scoring combination"
	}
	names := make([]string, len(b.Combos))
	for i, c := range b.Combos {
		names[i] = c.Name
	}
	return strings.Join(names, " + ")
}

// Option is one way to score a roll: a sub-multiset of the rolled faces in
// which every die contributes to the points.
//
// Faces is ascending. Dice holds the ascending indices in the rolled faces of
// the selected dice. DieIDs, set by EvaluateDice only, names the die kept for
// each entry of Faces. Combos is shared with the engine and must not be
// modified.
type Option struct {
	Faces     []int
	Dice      []int
	DieIDs    []string
	Points    int
	Consumed  int
	Remaining int
	Combos    []Combo
}

// String renders the option, e.g. "1 5 5 (200)".
func (o Option) String() string {
	parts := make([]string, len(o.Faces))
	for i, f := range o.Faces {
		parts[i] = fmt.Sprint(f)
	}
	return fmt.Sprintf("%s (%d)", strings.Join(parts, " "), o.Points)
}

type template struct {
	counts Counts
	faces  []int
	points int
	combos []Combo
}

// Engine scores rolls against a RuleTable.
//
// Invariant: read-only after NewEngine; safe for concurrent use.
type Engine struct {
	table  RuleTable
	single [6]int
	// slot maps a packed count vector to its index in scores and templates.
	slot      []int16
	scores    []Breakdown
	templates [][]template
}

// NewEngine validates table and precomputes the score and option list of
// every multiset of up to six faces.
//
// Postcondition: Returns an Engine or an error wrapping ErrInvalidRuleTable.
func NewEngine(table RuleTable) (*Engine, error) {
	table = table.withDefaults()
	if err := table.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{table: table, slot: make([]int16, keySpace)}
	var all []Counts
	eachMultiset(func(c Counts) {
		e.slot[c.key()] = int16(len(all))
		e.scores = append(e.scores, table.score(c))
		all = append(all, c)
	})
	e.templates = make([][]template, len(all))
	for i, c := range all {
		if c.Total() > 0 {
			e.templates[i] = e.buildTemplates(c)
		}
	}
	for f := range e.single {
		e.single[f] = e.bestOf(CountFaces([]int{f + 1}))
	}
	return e, nil
}

// MustEngine is NewEngine that panics on error.
func MustEngine(table RuleTable) *Engine {
	e, err := NewEngine(table)
	if err != nil {
		panic("scoring: MustEngine: " + err.Error())
	}
	return e
}

// Table returns the engine's rule table.
func (e *Engine) Table() RuleTable { return e.table }

// eachMultiset visits every count vector with Total() <= MaxDice.
func eachMultiset(fn func(Counts)) {
	var c Counts
	var walk func(face, left int)
	walk = func(face, left int) {
		if face == len(c) {
			fn(c)
			return
		}
		for n := 0; n <= left; n++ {
			c[face] = uint8(n)
			walk(face+1, left-n)
		}
		c[face] = 0
	}
	walk(0, MaxDice)
}

// score applies the rules in declaration order to c.
func (t RuleTable) score(c Counts) Breakdown {
	var b Breakdown
	left := c
	straight := false
	for _, r := range t.Rules {
		switch r.Kind {
		case KindStraight:
			if straight || !hasAll(left, r.Faces) {
				continue
			}
			straight = true
			for _, f := range r.Faces {
				left[f-1]--
			}
			faces := slices.Clone(r.Faces)
			slices.Sort(faces)
			b.add(Combo{RuleID: r.ID, Name: r.Name, Faces: faces, Points: r.Points})
		case KindSet:
			f := r.Faces[0]
			n := int(left[f-1])
			if n < r.Count {
				continue
			}
			points := r.Points
			for i := r.Count; i < n; i++ {
				points *= r.ExtraDieMultiplier
			}
			left[f-1] = 0
			b.add(Combo{RuleID: r.ID, Name: r.Name, Faces: repeat(f, n), Points: points})
		case KindSingle:
			f := r.Faces[0]
			n := int(left[f-1])
			if n == 0 {
				continue
			}
			left[f-1] = 0
			b.add(Combo{RuleID: r.ID, Name: r.Name, Faces: repeat(f, n), Points: n * r.Points})
		}
	}
	return b
}

func (b *Breakdown) add(c Combo) {
	b.Points += c.Points
	b.Used += len(c.Faces)
	b.Combos = append(b.Combos, c)
}

func hasAll(c Counts, faces []int) bool {
	for _, f := range faces {
		if c[f-1] == 0 {
			return false
		}
	}
	return true
}

func repeat(face, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = face
	}
	return out
}

// buildTemplates lists every scoring sub-multiset of c in which removing any
// single die lowers the score.
func (e *Engine) buildTemplates(c Counts) []template {
	var out []template
	var sub Counts
	var walk func(face int)
	walk = func(face int) {
		if face == len(sub) {
			if sub.Total() == 0 {
				return
			}
			b := e.scores[e.slot[sub.key()]]
			if b.Points == 0 || !e.everyDieCounts(sub, b.Points) {
				return
			}
			out = append(out, template{counts: sub, faces: sub.Faces(), points: b.Points, combos: b.Combos})
			return
		}
		for n := uint8(0); n <= c[face]; n++ {
			sub[face] = n
			walk(face + 1)
		}
		sub[face] = 0
	}
	walk(0)
	slices.SortFunc(out, func(a, b template) int {
		if a.points != b.points {
			return b.points - a.points
		}
		if len(a.faces) != len(b.faces) {
			return len(a.faces) - len(b.faces)
		}
		return slices.Compare(a.faces, b.faces)
	})
	return out
}

func (e *Engine) everyDieCounts(sub Counts, points int) bool {
	for i, v := range sub {
		if v == 0 {
			continue
		}
		sub[i]--
		lower := e.scores[e.slot[sub.key()]].Points < points
		sub[i]++
		if !lower {
			return false
		}
	}
	return true
}

func checkFaces(faces []int) {
	if len(faces) > MaxDice {
		panic(fmt.Sprintf("scoring: %d faces exceeds %d dice", len(faces), MaxDice))
	}
	for _, f := range faces {
		if f < 1 || f > 6 {
			panic(fmt.Sprintf("scoring: face %d out of range [1, 6]", f))
		}
	}
}

// Evaluate returns every scoring option of the rolled faces. An empty result
// is a bust.
//
// Precondition: len(faces) <= 6 and every face is in [1, 6]; panics otherwise.
// Postcondition: options are ordered by points descending, then dice consumed
// ascending, then faces lexicographically; identical multisets yield
// identical option lists. Remaining == len(faces) - Consumed.
func (e *Engine) Evaluate(faces []int) []Option {
	checkFaces(faces)
	if len(faces) == 0 {
		return nil
	}
	templates := e.templates[e.slot[CountFaces(faces).key()]]
	if len(templates) == 0 {
		return nil
	}
	out := make([]Option, len(templates))
	for i, t := range templates {
		out[i] = Option{
			Faces:     t.faces,
			Dice:      pickDice(faces, t.counts),
			Points:    t.points,
			Consumed:  len(t.faces),
			Remaining: len(faces) - len(t.faces),
			Combos:    t.combos,
		}
	}
	return out
}

// EvaluateDice is Evaluate for a roll of physically distinct dice: ids[i]
// names the die that rolled faces[i]. Dice sharing an ID are interchangeable,
// so a scoring multiset yields one option per distinct choice of die IDs.
// When two different dice show the same face, keeping either is a separate
// option.
//
// Precondition: as for Evaluate, and len(ids) == len(faces); panics otherwise.
// Postcondition: options are ordered as by Evaluate, then by DieIDs
// lexicographically. Dice takes the lowest indices among interchangeable dice.
func (e *Engine) EvaluateDice(faces []int, ids []string) []Option {
	if len(ids) != len(faces) {
		panic(fmt.Sprintf("scoring: %d die IDs for %d faces", len(ids), len(faces)))
	}
	base := e.Evaluate(faces)
	if len(base) == 0 {
		return nil
	}
	groups := groupDice(faces, ids)
	out := make([]Option, 0, len(base))
	for _, o := range base {
		out = appendChoices(out, o, &groups)
	}
	return out
}

// dieGroup is the interchangeable dice showing one face.
type dieGroup struct {
	id  string
	pos []int
}

// groupDice buckets the rolled dice by face, then by ID in ascending order.
func groupDice(faces []int, ids []string) [6][]dieGroup {
	var groups [6][]dieGroup
	for i, f := range faces {
		gs := groups[f-1]
		j := slices.IndexFunc(gs, func(g dieGroup) bool { return g.id == ids[i] })
		if j < 0 {
			gs = append(gs, dieGroup{id: ids[i]})
			j = len(gs) - 1
		}
		gs[j].pos = append(gs[j].pos, i)
		groups[f-1] = gs
	}
	for f := range groups {
		slices.SortFunc(groups[f], func(a, b dieGroup) int { return strings.Compare(a.id, b.id) })
	}
	return groups
}

// appendChoices appends one copy of o per way of drawing its faces from the
// groups. Faces are split in ascending order and each split takes as many
// dice as it can from the lowest ID first, which yields DieIDs in ascending
// lexicographic order.
func appendChoices(out []Option, o Option, groups *[6][]dieGroup) []Option {
	want := CountFaces(o.Faces)
	var take [6][]int
	var walk func(face int)
	walk = func(face int) {
		if face == len(take) {
			out = append(out, choice(o, groups, &take))
			return
		}
		n := int(want[face])
		if n == 0 {
			take[face] = nil
			walk(face + 1)
			return
		}
		gs := groups[face]
		counts := make([]int, len(gs))
		take[face] = counts
		var split func(g, left int)
		split = func(g, left int) {
			if g == len(gs)-1 {
				if left > len(gs[g].pos) {
					return
				}
				counts[g] = left
				walk(face + 1)
				return
			}
			for k := min(left, len(gs[g].pos)); k >= 0; k-- {
				counts[g] = k
				split(g+1, left-k)
			}
		}
		split(0, n)
	}
	walk(0)
	return out
}

func choice(o Option, groups *[6][]dieGroup, take *[6][]int) Option {
	c := o
	c.Dice = make([]int, 0, o.Consumed)
	c.DieIDs = make([]string, 0, o.Consumed)
	for f, counts := range take {
		for g, k := range counts {
			grp := groups[f][g]
			c.Dice = append(c.Dice, grp.pos[:k]...)
			for range k {
				c.DieIDs = append(c.DieIDs, grp.id)
			}
		}
	}
	slices.Sort(c.Dice)
	return c
}

func pickDice(faces []int, want Counts) []int {
	idx := make([]int, 0, want.Total())
	for i, f := range faces {
		if want[f-1] > 0 {
			want[f-1]--
			idx = append(idx, i)
		}
	}
	return idx
}

// Score returns the breakdown of all the faces taken together.
//
// Precondition: as for Evaluate.
func (e *Engine) Score(faces []int) Breakdown {
	checkFaces(faces)
	return e.scores[e.slot[CountFaces(faces).key()]]
}

// IsBust reports whether faces has no scoring option.
//
// Precondition: as for Evaluate.
func (e *Engine) IsBust(faces []int) bool {
	checkFaces(faces)
	return len(faces) == 0 || len(e.templates[e.slot[CountFaces(faces).key()]]) == 0
}

// Best returns the highest points available from faces, 0 for a bust.
//
// Precondition: as for Evaluate.
func (e *Engine) Best(faces []int) int {
	checkFaces(faces)
	return e.bestOf(CountFaces(faces))
}

func (e *Engine) bestOf(c Counts) int {
	t := e.templates[e.slot[c.key()]]
	if len(t) == 0 {
		return 0
	}
	return t[0].points
}
