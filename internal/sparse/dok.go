package sparse

import "sort"

// DOK is a dictionary-of-keys matrix. Lookups are O(1); products walk a
// sorted key list that is rebuilt only after the sparsity pattern changes.
type DOK struct {
	rows, cols int
	data       map[index]float64

	keys   []index
	sorted bool
}

// NewDOK returns an empty rows×cols DOK matrix.
func NewDOK(rows, cols int) *DOK {
	return &DOK{
		rows: rows,
		cols: cols,
		data: make(map[index]float64),
	}
}

func (m *DOK) Dims() (r, c int) { return m.rows, m.cols }

func (m *DOK) NNZ() int { return len(m.data) }

func (m *DOK) At(i, j int) (float64, error) {
	if err := checkIndex(i, j, m.rows, m.cols); err != nil {
		return 0, err
	}
	return m.data[index{i, j}], nil
}

func (m *DOK) Set(i, j int, v float64) error {
	if err := checkIndex(i, j, m.rows, m.cols); err != nil {
		return err
	}
	k := index{i, j}
	_, exists := m.data[k]
	if v == 0 {
		if exists {
			delete(m.data, k)
			m.sorted = false
		}
		return nil
	}
	if !exists {
		m.sorted = false
	}
	m.data[k] = v
	return nil
}

func (m *DOK) orderedKeys() []index {
	if m.sorted {
		return m.keys
	}
	m.keys = m.keys[:0]
	for k := range m.data {
		m.keys = append(m.keys, k)
	}
	sort.Slice(m.keys, func(a, b int) bool { return m.keys[a].less(m.keys[b]) })
	m.sorted = true
	return m.keys
}

func (m *DOK) MulVec(x []float64) ([]float64, error) {
	if len(x) != m.cols {
		return nil, &DimensionError{Op: "mul", Got: len(x), Want: m.cols}
	}
	dst := make([]float64, m.rows)
	for _, k := range m.orderedKeys() {
		dst[k.row] += m.data[k] * x[k.col]
	}
	return dst, nil
}

func (m *DOK) MulTransVec(x []float64) ([]float64, error) {
	if len(x) != m.rows {
		return nil, &DimensionError{Op: "mul trans", Got: len(x), Want: m.rows}
	}
	dst := make([]float64, m.cols)
	for _, k := range m.orderedKeys() {
		dst[k.col] += m.data[k] * x[k.row]
	}
	return dst, nil
}
