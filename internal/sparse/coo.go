package sparse

import "sort"

type triplet struct {
	index
	v float64
}

// COO is a coordinate-list matrix kept sorted by (row, col). Appending in
// row-major order is O(1); out-of-order writes fall back to an insertion.
type COO struct {
	rows, cols int
	data       []triplet
}

// NewCOO returns an empty rows×cols COO matrix.
func NewCOO(rows, cols int) *COO {
	return &COO{rows: rows, cols: cols}
}

func (m *COO) Dims() (r, c int) { return m.rows, m.cols }

func (m *COO) NNZ() int { return len(m.data) }

// search returns the position of k, or where it would be inserted.
func (m *COO) search(k index) (int, bool) {
	n := len(m.data)
	if n == 0 || m.data[n-1].index.less(k) {
		return n, false
	}
	p := sort.Search(n, func(p int) bool { return !m.data[p].index.less(k) })
	return p, p < n && m.data[p].index == k
}

func (m *COO) At(i, j int) (float64, error) {
	if err := checkIndex(i, j, m.rows, m.cols); err != nil {
		return 0, err
	}
	if p, ok := m.search(index{i, j}); ok {
		return m.data[p].v, nil
	}
	return 0, nil
}

func (m *COO) Set(i, j int, v float64) error {
	if err := checkIndex(i, j, m.rows, m.cols); err != nil {
		return err
	}
	k := index{i, j}
	p, ok := m.search(k)
	switch {
	case ok && v == 0:
		m.data = append(m.data[:p], m.data[p+1:]...)
	case ok:
		m.data[p].v = v
	case v == 0:
	case p == len(m.data):
		m.data = append(m.data, triplet{k, v})
	default:
		m.data = append(m.data, triplet{})
		copy(m.data[p+1:], m.data[p:])
		m.data[p] = triplet{k, v}
	}
	return nil
}

func (m *COO) MulVec(x []float64) ([]float64, error) {
	if len(x) != m.cols {
		return nil, &DimensionError{Op: "mul", Got: len(x), Want: m.cols}
	}
	dst := make([]float64, m.rows)
	for _, t := range m.data {
		dst[t.row] += t.v * x[t.col]
	}
	return dst, nil
}

func (m *COO) MulTransVec(x []float64) ([]float64, error) {
	if len(x) != m.rows {
		return nil, &DimensionError{Op: "mul trans", Got: len(x), Want: m.rows}
	}
	dst := make([]float64, m.cols)
	for _, t := range m.data {
		dst[t.col] += t.v * x[t.row]
	}
	return dst, nil
}
