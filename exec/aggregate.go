package exec

import (
	"strings"

	"github.com/goquel/goquel/ast"
	"github.com/goquel/goquel/eval"
	"github.com/goquel/goquel/goqlerr"
	"github.com/goquel/goquel/plan"
)

// aggState accumulates one aggregate's running value across a group's
// rows: COUNT(*) counts every row, COUNT(col)/SUM/AVG/MIN/MAX skip NULL,
// SUM/AVG error on a non-numeric column, and SUM stays an integer while
// AVG always reports a float.
type aggState struct {
	fn          ast.AggFunc
	star        bool
	count       int
	sum         int64
	extreme     eval.Value
	haveExtreme bool
}

func newAggStates(aggs []plan.Aggregate) []*aggState {
	out := make([]*aggState, len(aggs))
	for i, a := range aggs {
		out[i] = &aggState{fn: a.Func, star: a.Star}
	}
	return out
}

func (s *aggState) accumulate(ev *eval.Evaluator, agg plan.Aggregate, row eval.Row) error {
	if s.fn == ast.AggCount && agg.Star {
		s.count++
		return nil
	}
	v, err := ev.Evaluate(agg.Arg, row)
	if err != nil {
		return err
	}
	if v.IsNull() {
		return nil
	}
	switch s.fn {
	case ast.AggCount:
		s.count++
	case ast.AggSum, ast.AggAvg:
		if v.Kind != eval.KindInt {
			return goqlerr.Exec("%s over a non-numeric column", s.fn)
		}
		s.count++
		s.sum += int64(v.Int)
	case ast.AggMin:
		if !s.haveExtreme || eval.Compare(v, s.extreme) < 0 {
			s.extreme = v
			s.haveExtreme = true
		}
	case ast.AggMax:
		if !s.haveExtreme || eval.Compare(v, s.extreme) > 0 {
			s.extreme = v
			s.haveExtreme = true
		}
	}
	return nil
}

func (s *aggState) result() eval.Value {
	switch s.fn {
	case ast.AggCount:
		return eval.Int(int32(s.count))
	case ast.AggSum:
		if s.count == 0 {
			return eval.Null()
		}
		return eval.Int(int32(s.sum))
	case ast.AggAvg:
		if s.count == 0 {
			return eval.Null()
		}
		return eval.Float64(float64(s.sum) / float64(s.count))
	case ast.AggMin, ast.AggMax:
		if !s.haveExtreme {
			return eval.Null()
		}
		return s.extreme
	}
	return eval.Null()
}

// group holds one GROUP BY bucket: its key columns (for the output row)
// plus one aggState per requested aggregate, in first-seen order.
// GroupAggregate's output order is unspecified across groups but stable
// within a single run.
type group struct {
	keyRow eval.Row
	states []*aggState
}

func (ex *Executor) execGroupAggregate(n *GroupAggregateOp) ([]eval.Row, error) {
	rows, err := ex.Run(n.Child)
	if err != nil {
		return nil, err
	}
	ev := eval.New()

	groups := map[string]*group{}
	var order []*group
	for _, row := range rows {
		keyParts := make([]string, len(n.GroupKeys))
		keyRow := eval.Row{}
		for i, k := range n.GroupKeys {
			v := columnValue(ev, row, k)
			keyParts[i] = eval.IdenticalFor(v)
			keyRow[k] = v
		}
		gk := strings.Join(keyParts, "\x1f")
		g, ok := groups[gk]
		if !ok {
			g = &group{keyRow: keyRow, states: newAggStates(n.Aggregates)}
			groups[gk] = g
			order = append(order, g)
		}
		for i, agg := range n.Aggregates {
			if err := g.states[i].accumulate(ev, agg, row); err != nil {
				return nil, withOp(err, "GroupAggregate")
			}
		}
	}

	// An empty input with no GROUP BY still reports one implicit group
	// (COUNT(*) = 0, SUM/AVG/MIN/MAX = NULL).
	if len(order) == 0 && len(n.GroupKeys) == 0 {
		order = append(order, &group{keyRow: eval.Row{}, states: newAggStates(n.Aggregates)})
	}

	out := make([]eval.Row, len(order))
	for i, g := range order {
		row := g.keyRow.Clone()
		for j, agg := range n.Aggregates {
			row[agg.Alias] = g.states[j].result()
		}
		out[i] = row
	}
	return out, nil
}
