package policy

import (
	"fmt"
	"math"
)

const (
	// NumBuffs is the number of distinct sub-stat types an echo can roll.
	NumBuffs = 13
	// MaxSlots is the number of sub-stat slots on a fully enhanced echo.
	MaxSlots = 5
)

// ValueCount is one bucket of a buff's empirical value histogram.
// Values live on the x10 grid: a 6.3% roll is stored as 63.
type ValueCount struct {
	Value int
	Count int
}

// Buff describes one sub-stat type: identity, display metadata and the
// discrete value grid with observed roll counts.
type Buff struct {
	Name      string // canonical identifier, also the display label
	Percent   bool   // percent-valued stats divide by 10 for display
	MaxValue  int    // largest value on the x10 grid
	Histogram []ValueCount
}

// Community roll dataset. Percentage stats use the x10 fixed scale
// (6.3% stored as 63); flat stats store raw values.
var builtinBuffs = []Buff{
	{Name: "Crit. Rate", Percent: true, MaxValue: 105, Histogram: []ValueCount{
		{63, 1036}, {69, 964}, {75, 1053}, {81, 362}, {87, 322}, {93, 328}, {99, 131}, {105, 112},
	}},
	{Name: "Crit. DMG", Percent: true, MaxValue: 210, Histogram: []ValueCount{
		{126, 995}, {138, 1005}, {150, 1090}, {162, 335}, {174, 362}, {186, 387}, {198, 129}, {210, 119},
	}},
	{Name: "ATK%", Percent: true, MaxValue: 116, Histogram: []ValueCount{
		{64, 316}, {71, 373}, {79, 921}, {86, 1125}, {94, 781}, {101, 707}, {109, 254}, {116, 139},
	}},
	{Name: "DEF%", Percent: true, MaxValue: 147, Histogram: []ValueCount{
		{81, 318}, {90, 413}, {100, 995}, {109, 1277}, {118, 872}, {128, 718}, {138, 295}, {147, 152},
	}},
	{Name: "HP%", Percent: true, MaxValue: 116, Histogram: []ValueCount{
		{64, 321}, {71, 386}, {79, 1005}, {86, 1213}, {94, 800}, {101, 669}, {109, 275}, {116, 137},
	}},
	{Name: "ATK", Percent: false, MaxValue: 60, Histogram: []ValueCount{
		{30, 326}, {40, 2496}, {50, 1838}, {60, 120},
	}},
	{Name: "DEF", Percent: false, MaxValue: 70, Histogram: []ValueCount{
		{40, 700}, {50, 2128}, {60, 1846}, {70, 141},
	}},
	{Name: "HP", Percent: false, MaxValue: 580, Histogram: []ValueCount{
		{320, 298}, {360, 419}, {390, 971}, {430, 1205}, {470, 864}, {510, 680}, {540, 258}, {580, 168},
	}},
	{Name: "Energy Regen", Percent: true, MaxValue: 124, Histogram: []ValueCount{
		{68, 302}, {76, 375}, {84, 975}, {92, 1199}, {100, 871}, {108, 643}, {116, 274}, {124, 126},
	}},
	{Name: "Basic Attack DMG Bonus", Percent: true, MaxValue: 116, Histogram: []ValueCount{
		{64, 316}, {71, 360}, {79, 959}, {86, 1199}, {94, 859}, {101, 723}, {109, 263}, {116, 160},
	}},
	{Name: "Heavy Attack DMG Bonus", Percent: true, MaxValue: 116, Histogram: []ValueCount{
		{64, 319}, {71, 369}, {79, 968}, {86, 1187}, {94, 809}, {101, 697}, {109, 283}, {116, 150},
	}},
	{Name: "Resonance Skill DMG Bonus", Percent: true, MaxValue: 116, Histogram: []ValueCount{
		{64, 328}, {71, 357}, {79, 978}, {86, 1173}, {94, 847}, {101, 731}, {109, 283}, {116, 149},
	}},
	{Name: "Resonance Liberation DMG Bonus", Percent: true, MaxValue: 116, Histogram: []ValueCount{
		{64, 292}, {71, 358}, {79, 973}, {86, 1162}, {94, 823}, {101, 694}, {109, 280}, {116, 144},
	}},
}

// ValueProb is one bucket of a buff's normalised value distribution.
type ValueProb struct {
	Value int
	Prob  float64
}

// Catalog holds the buff list in canonical order plus a name index.
// Catalogs are immutable after construction; blending user counts
// produces a new Catalog.
type Catalog struct {
	buffs []Buff
	index map[string]int
}

// NewCatalog builds the process-wide catalogue from the built-in dataset.
func NewCatalog() *Catalog {
	c, err := newCatalog(builtinBuffs)
	if err != nil {
		// The built-in tables are static; a failure here is a programming error.
		panic(err)
	}
	return c
}

func newCatalog(buffs []Buff) (*Catalog, error) {
	if len(buffs) != NumBuffs {
		return nil, fmt.Errorf("catalog: expected %d buffs, got %d", NumBuffs, len(buffs))
	}
	index := make(map[string]int, len(buffs))
	for i, b := range buffs {
		if _, dup := index[b.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate buff %q", b.Name)
		}
		index[b.Name] = i
		if len(b.Histogram) == 0 {
			return nil, fmt.Errorf("catalog: buff %q has an empty histogram", b.Name)
		}
		prev := 0
		for _, vc := range b.Histogram {
			if vc.Value <= prev {
				return nil, fmt.Errorf("catalog: buff %q values must be strictly increasing and positive", b.Name)
			}
			if vc.Count < 0 {
				return nil, fmt.Errorf("catalog: buff %q has a negative count at value %d", b.Name, vc.Value)
			}
			prev = vc.Value
		}
		if b.Histogram[len(b.Histogram)-1].Value != b.MaxValue {
			return nil, fmt.Errorf("catalog: buff %q max value %d does not close its grid", b.Name, b.MaxValue)
		}
	}
	c := &Catalog{buffs: buffs, index: index}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Buffs returns the buff list in canonical order.
func (c *Catalog) Buffs() []Buff { return c.buffs }

// Buff returns the buff at the canonical index.
func (c *Catalog) Buff(i int) Buff { return c.buffs[i] }

// Index resolves a buff name to its canonical index.
func (c *Catalog) Index(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// Names returns the canonical name order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.buffs))
	for i, b := range c.buffs {
		names[i] = b.Name
	}
	return names
}

// PMF returns the normalised value distribution of one buff.
// The probabilities sum to 1 up to float accumulation error.
func (c *Catalog) PMF(i int) []ValueProb {
	h := c.buffs[i].Histogram
	total := 0.0
	for _, vc := range h {
		total += float64(vc.Count)
	}
	pmf := make([]ValueProb, len(h))
	for j, vc := range h {
		pmf[j] = ValueProb{Value: vc.Value, Prob: float64(vc.Count) / total}
	}
	return pmf
}

// Validate checks the probability-mass invariant on every buff.
func (c *Catalog) Validate() error {
	for i := range c.buffs {
		sum := 0.0
		for _, vp := range c.PMF(i) {
			sum += vp.Prob
		}
		if math.Abs(sum-1.0) > 1e-9 {
			return fmt.Errorf("catalog: buff %q probability mass is %.12f", c.buffs[i].Name, sum)
		}
	}
	return nil
}

// UserCounts maps buff name -> value -> observed roll count. The counts are
// added to the base histogram before normalisation, so a large user sample
// gradually outweighs the shipped dataset.
type UserCounts map[string]map[int]int

// Blend returns a new catalogue with user counts merged additively into the
// base counts. Unknown buffs and off-grid values are rejected, not dropped.
func (c *Catalog) Blend(user UserCounts) (*Catalog, error) {
	buffs := make([]Buff, len(c.buffs))
	copy(buffs, c.buffs)
	for i := range buffs {
		h := make([]ValueCount, len(c.buffs[i].Histogram))
		copy(h, c.buffs[i].Histogram)
		buffs[i].Histogram = h
	}

	for name, counts := range user {
		i, ok := c.index[name]
		if !ok {
			return nil, &InvalidInputError{Field: "userCounts", Reason: fmt.Sprintf("unknown buff %q", name)}
		}
		for value, count := range counts {
			if count < 0 {
				return nil, &InvalidInputError{Field: "userCounts", Reason: fmt.Sprintf("negative count for %s=%d", name, value)}
			}
			j := -1
			for k, vc := range buffs[i].Histogram {
				if vc.Value == value {
					j = k
					break
				}
			}
			if j < 0 {
				return nil, &InvalidInputError{Field: "userCounts", Reason: fmt.Sprintf("value %d is not on the %s grid", value, name)}
			}
			buffs[i].Histogram[j].Count += count
		}
	}
	return newCatalog(buffs)
}
