package reloc

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/tdreloc/internal/fault"
	"github.com/sells-group/tdreloc/internal/model"
	"github.com/sells-group/tdreloc/internal/robust"
	"github.com/sells-group/tdreloc/internal/sparse"
)

// machineEps is the MAD floor below which residuals are left unweighted.
const machineEps = 2.220446049250313e-16

// system is one linearised iteration. Data rows come first, followed by
// the three gauge rows. a is unweighted.
type system struct {
	a    sparse.Matrix
	d    []float64
	td   []int    // filtered triple-difference index of each data row
	pair [][2]int // event indices of each data row
	cols int
}

func (s *system) dataRows() int { return len(s.td) }

// assemble builds the design matrix and residual vector for the filtered
// triple differences at the current hypocenters.
func (c *clusterRun) assemble(tds []model.TripleDifference) (*system, error) {
	nEv := len(c.events)
	nSt := c.r.stations.Len()

	var rows []int
	for k, td := range tds {
		if td.Event0 < 0 || td.Event0 >= nEv || td.Event1 < 0 || td.Event1 >= nEv {
			return nil, fault.NewDataError(fmt.Sprintf("cluster %d", c.clusterID),
				fmt.Errorf("triple difference %d references event outside 0..%d", k, nEv-1))
		}
		if td.Station0 < 0 || td.Station0 >= nSt || td.Station1 < 0 || td.Station1 >= nSt {
			return nil, fault.NewDataError(fmt.Sprintf("cluster %d", c.clusterID),
				fmt.Errorf("triple difference %d references station outside 0..%d", k, nSt-1))
		}
		if c.events[td.Event0].State == model.StateError || c.events[td.Event1].State == model.StateError {
			continue
		}
		if c.targetMap[td.Event0] < 0 && c.targetMap[td.Event1] < 0 {
			continue
		}
		rows = append(rows, k)
	}

	cols := 3 * c.numTarget
	sys := &system{
		a:    sparse.New(len(rows)+3, cols, c.r.opts.SparseThreshold),
		d:    make([]float64, len(rows)+3),
		td:   rows,
		pair: make([][2]int, len(rows)),
		cols: cols,
	}

	for row, k := range rows {
		td := tds[k]
		t0 := c.tables[td.Event0]
		t1 := c.tables[td.Event1]
		s0, s1 := td.Station0, td.Station1

		sys.pair[row] = [2]int{td.Event0, td.Event1}
		sys.d[row] = td.Lag - ((t1.TravelTime[s1] - t1.TravelTime[s0]) - (t0.TravelTime[s1] - t0.TravelTime[s0]))

		if col := c.targetMap[td.Event1]; col >= 0 {
			for ax := range 3 {
				if err := sys.a.Set(row, 3*col+ax, t1.Partials[s1][ax]-t1.Partials[s0][ax]); err != nil {
					return nil, err
				}
			}
		}
		if col := c.targetMap[td.Event0]; col >= 0 {
			for ax := range 3 {
				if err := sys.a.Set(row, 3*col+ax, -(t0.Partials[s1][ax] - t0.Partials[s0][ax])); err != nil {
					return nil, err
				}
			}
		}
	}

	// Gauge rows: the sum of all target shifts along each axis.
	if gw := c.r.opts.GaugeWeight; gw != 0 {
		for ax := range 3 {
			for col := range c.numTarget {
				if err := sys.a.Set(len(rows)+ax, 3*col+ax, gw); err != nil {
					return nil, err
				}
			}
		}
	}
	return sys, nil
}

// weights returns biweight row weights computed from the previous
// iteration's post-fit residuals. Rows without a previous residual and the
// gauge rows keep weight 1.
func (c *clusterRun) weights(sys *system) []float64 {
	w := make([]float64, len(sys.d))
	for i := range w {
		w[i] = 1
	}
	if c.prevResidual == nil {
		return w
	}

	var (
		rs []float64
		at []int
	)
	for row, k := range sys.td {
		if r, ok := c.prevResidual[k]; ok {
			rs = append(rs, r)
			at = append(at, row)
		}
	}
	bw, mad, ok := robust.BiweightWeights(rs, robust.BiweightC, machineEps)
	if !ok {
		zap.L().Debug("reloc: residual scale degenerate, keeping unit weights",
			zap.Int("cluster", c.clusterID),
			zap.Float64("mad", mad),
		)
		return w
	}
	for i, row := range at {
		w[row] = bw[i]
	}
	return w
}

// weighted returns w∘d.
func weighted(d, w []float64) []float64 {
	b := make([]float64, len(d))
	for i := range d {
		b[i] = d[i] * w[i]
	}
	return b
}

// postfit returns d − A·x over the data rows.
func (s *system) postfit(x []float64) ([]float64, error) {
	ax, err := s.a.MulVec(x)
	if err != nil {
		return nil, err
	}
	r := make([]float64, s.dataRows())
	for i := range r {
		r[i] = s.d[i] - ax[i]
	}
	return r, nil
}
