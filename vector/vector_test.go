package vector_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/mtreeidx/vector"
)

func TestNewRejectsWrongDimension(t *testing.T) {
	_, err := vector.New(vector.F64, []float64{1, 2}, 3)
	require.ErrorIs(t, err, vector.ErrInvalidVectorDimension)
}

func TestNewRejectsNonFinite(t *testing.T) {
	_, err := vector.New(vector.F64, []float64{1, 2, math.NaN()}, 3)
	require.Error(t, err)
}

func TestNewRejectsOutOfRangeInteger(t *testing.T) {
	_, err := vector.New(vector.I16, []float64{1, 2, 70000}, 3)
	require.ErrorIs(t, err, vector.ErrInvalidVectorValue)
}

func TestEqualPointerShortCircuit(t *testing.T) {
	v, err := vector.New(vector.F64, []float64{1, 2, 3}, 3)
	require.NoError(t, err)
	require.True(t, v.Equal(v))
}

func TestEqualElementwise(t *testing.T) {
	a, err := vector.New(vector.F64, []float64{1, 2, 3}, 3)
	require.NoError(t, err)
	b, err := vector.New(vector.F64, []float64{1, 2, 3}, 3)
	require.NoError(t, err)
	require.True(t, a.Equal(b))
	require.Equal(t, a.Hash(), b.Hash())
}

func TestUnequalVectorsHaveDifferentHashesUsually(t *testing.T) {
	a, err := vector.New(vector.F64, []float64{1, 2, 3}, 3)
	require.NoError(t, err)
	b, err := vector.New(vector.F64, []float64{1, 2, 4}, 3)
	require.NoError(t, err)
	require.False(t, a.Equal(b))
	require.NotEqual(t, a.Hash(), b.Hash())
}

func TestLessIsATotalOrder(t *testing.T) {
	a, err := vector.New(vector.F64, []float64{1, 2}, 2)
	require.NoError(t, err)
	b, err := vector.New(vector.F64, []float64{1, 3}, 2)
	require.NoError(t, err)
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
}
