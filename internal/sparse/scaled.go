package sparse

// RowScaled presents diag(w)·A without copying A.
type RowScaled struct {
	m Matrix
	w []float64
}

// ScaleRows wraps m so that row i is multiplied by w[i].
func ScaleRows(m Matrix, w []float64) (*RowScaled, error) {
	r, _ := m.Dims()
	if len(w) != r {
		return nil, &DimensionError{Op: "scale rows", Got: len(w), Want: r}
	}
	return &RowScaled{m: m, w: w}, nil
}

func (s *RowScaled) Dims() (r, c int) { return s.m.Dims() }

func (s *RowScaled) MulVec(x []float64) ([]float64, error) {
	y, err := s.m.MulVec(x)
	if err != nil {
		return nil, err
	}
	for i := range y {
		y[i] *= s.w[i]
	}
	return y, nil
}

func (s *RowScaled) MulTransVec(x []float64) ([]float64, error) {
	if len(x) != len(s.w) {
		return nil, &DimensionError{Op: "mul trans", Got: len(x), Want: len(s.w)}
	}
	wx := make([]float64, len(x))
	for i := range x {
		wx[i] = s.w[i] * x[i]
	}
	return s.m.MulTransVec(wx)
}
