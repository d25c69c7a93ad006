package extract

import "gastos/internal/core"

// NeighborPrior corrects a classified category with a majority vote over
// the nearest stored expenses of the same chat.
type NeighborPrior struct {
	TopK                  int
	MinConsideredUnclear  int
	RatioUnclear          float64
	MinConsideredOverride int
	RatioOverride         float64
}

func DefaultNeighborPrior() NeighborPrior {
	return NeighborPrior{
		TopK:                  3,
		MinConsideredUnclear:  2,
		RatioUnclear:          0.60,
		MinConsideredOverride: 3,
		RatioOverride:         0.80,
	}
}

// Vote is the tally over the considered neighbors.
type Vote struct {
	Dominant   core.Category
	Count      int
	Considered int
	Ratio      float64
}

// Tally counts normalized categories over the first TopK examples, which are
// ordered nearest first. On a tie the category reached first wins, i.e. the
// one held by the nearest tied neighbor.
func (p NeighborPrior) Tally(examples []core.SimilarExample) (Vote, bool) {
	considered := min(p.TopK, len(examples))
	if considered <= 0 {
		return Vote{}, false
	}

	counts := make(map[core.Category]int, 3)
	var order []core.Category
	for _, ex := range examples[:considered] {
		c := core.NormalizeCategory(ex.Category)
		if counts[c] == 0 {
			order = append(order, c)
		}
		counts[c]++
	}

	v := Vote{Considered: considered}
	for _, c := range order {
		if counts[c] > v.Count {
			v.Dominant, v.Count = c, counts[c]
		}
	}
	v.Ratio = float64(v.Count) / float64(considered)
	return v, true
}

// Adjust returns the possibly corrected expense and whether the category
// changed. The vote never moves a category to unclear.
func (p NeighborPrior) Adjust(exp core.Expense, examples []core.SimilarExample) (core.Expense, bool) {
	v, ok := p.Tally(examples)
	if !ok || v.Dominant == core.CategoryUnclear || v.Dominant == exp.Category {
		return exp, false
	}

	switch {
	case exp.Category == core.CategoryUnclear &&
		v.Considered >= p.MinConsideredUnclear && v.Ratio >= p.RatioUnclear:
		exp.Category = v.Dominant
		return exp, true
	case v.Considered >= p.MinConsideredOverride && v.Ratio >= p.RatioOverride:
		exp.Category = v.Dominant
		return exp, true
	}
	return exp, false
}
