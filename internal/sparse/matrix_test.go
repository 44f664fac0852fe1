package sparse

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(r, c int) map[string]Matrix {
	return map[string]Matrix{
		"dok": NewDOK(r, c),
		"coo": NewCOO(r, c),
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	assert.IsType(t, &DOK{}, New(10, 10, 100))
	assert.IsType(t, &COO{}, New(10, 11, 100))
	assert.IsType(t, &DOK{}, New(1000, 1000, 0))
	assert.IsType(t, &COO{}, New(10_001, 1000, 0))
}

func TestUseCOO(t *testing.T) {
	assert.False(t, UseCOO(100, 100, 10_000))
	assert.True(t, UseCOO(100, 101, 10_000))
	assert.True(t, UseCOO(1<<20, 1<<20, DefaultThreshold))
}

func TestMatrix_SetGet(t *testing.T) {
	for name, m := range backends(3, 4) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, m.Set(2, 3, 1.5))
			require.NoError(t, m.Set(0, 0, -2))
			require.NoError(t, m.Set(1, 2, 7))

			v, err := m.At(2, 3)
			require.NoError(t, err)
			assert.InDelta(t, 1.5, v, 0)

			v, err = m.At(1, 1)
			require.NoError(t, err)
			assert.InDelta(t, 0.0, v, 0)
			assert.Equal(t, 3, m.NNZ())

			require.NoError(t, m.Set(2, 3, 4))
			v, _ = m.At(2, 3)
			assert.InDelta(t, 4.0, v, 0)
			assert.Equal(t, 3, m.NNZ())

			require.NoError(t, m.Set(0, 0, 0))
			v, _ = m.At(0, 0)
			assert.InDelta(t, 0.0, v, 0)
			assert.Equal(t, 2, m.NNZ())

			require.NoError(t, m.Set(1, 1, 0))
			assert.Equal(t, 2, m.NNZ())
		})
	}
}

func TestMatrix_IndexError(t *testing.T) {
	for name, m := range backends(2, 2) {
		t.Run(name, func(t *testing.T) {
			err := m.Set(2, 0, 1)
			var ie *IndexError
			require.True(t, errors.As(err, &ie))
			assert.Equal(t, 2, ie.Row)
			assert.Equal(t, 2, ie.Rows)

			_, err = m.At(0, -1)
			assert.True(t, errors.As(err, &ie))
			assert.Contains(t, err.Error(), "out of range")
		})
	}
}

func TestMatrix_MulVec(t *testing.T) {
	// [1 0 2]
	// [0 3 0]
	for name, m := range backends(2, 3) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, m.Set(0, 2, 2))
			require.NoError(t, m.Set(1, 1, 3))
			require.NoError(t, m.Set(0, 0, 1))

			y, err := m.MulVec([]float64{1, 2, 3})
			require.NoError(t, err)
			assert.Equal(t, []float64{7, 6}, y)

			z, err := m.MulTransVec([]float64{1, 2})
			require.NoError(t, err)
			assert.Equal(t, []float64{1, 6, 2}, z)

			_, err = m.MulVec([]float64{1})
			var de *DimensionError
			assert.True(t, errors.As(err, &de))
			_, err = m.MulTransVec([]float64{1, 2, 3})
			assert.True(t, errors.As(err, &de))
		})
	}
}

func TestBackends_Identical(t *testing.T) {
	const r, c = 40, 25
	rng := rand.New(rand.NewSource(7))
	dok, coo := NewDOK(r, c), NewCOO(r, c)
	for n := 0; n < 300; n++ {
		i, j, v := rng.Intn(r), rng.Intn(c), rng.NormFloat64()
		if n%17 == 0 {
			v = 0
		}
		require.NoError(t, dok.Set(i, j, v))
		require.NoError(t, coo.Set(i, j, v))
	}
	assert.Equal(t, dok.NNZ(), coo.NNZ())

	x := make([]float64, c)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	y := make([]float64, r)
	for i := range y {
		y[i] = rng.NormFloat64()
	}

	ad, err := dok.MulVec(x)
	require.NoError(t, err)
	ac, err := coo.MulVec(x)
	require.NoError(t, err)
	assert.Equal(t, ad, ac)

	td, err := dok.MulTransVec(y)
	require.NoError(t, err)
	tc, err := coo.MulTransVec(y)
	require.NoError(t, err)
	assert.Equal(t, td, tc)
}

func TestCOO_OutOfOrderInsert(t *testing.T) {
	m := NewCOO(3, 3)
	require.NoError(t, m.Set(2, 2, 9))
	require.NoError(t, m.Set(0, 1, 1))
	require.NoError(t, m.Set(1, 0, 4))
	require.NoError(t, m.Set(0, 0, 2))

	for p := 1; p < len(m.data); p++ {
		assert.True(t, m.data[p-1].index.less(m.data[p].index))
	}
	v, err := m.At(1, 0)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, v, 0)
}

func TestScaleRows(t *testing.T) {
	m := NewDOK(2, 2)
	require.NoError(t, m.Set(0, 0, 1))
	require.NoError(t, m.Set(0, 1, 2))
	require.NoError(t, m.Set(1, 1, 3))

	s, err := ScaleRows(m, []float64{2, 0.5})
	require.NoError(t, err)

	y, err := s.MulVec([]float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 1.5}, y)

	z, err := s.MulTransVec([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 7}, z)

	_, err = ScaleRows(m, []float64{1})
	assert.Error(t, err)
}
