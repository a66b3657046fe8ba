package distance_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/mtreeidx/distance"
	"github.com/surrealdb/mtreeidx/vector"
)

func vec(t *testing.T, components ...float64) *vector.Value {
	t.Helper()
	v, err := vector.New(vector.F64, components, len(components))
	require.NoError(t, err)
	return v
}

func TestEuclideanKnownValue(t *testing.T) {
	fn, err := distance.New(distance.Params{Metric: distance.Euclidean})
	require.NoError(t, err)
	d, err := fn(vec(t, 0, 0), vec(t, 3, 4))
	require.NoError(t, err)
	require.InDelta(t, 5.0, d, 1e-9)
}

func TestManhattanKnownValue(t *testing.T) {
	fn, err := distance.New(distance.Params{Metric: distance.Manhattan})
	require.NoError(t, err)
	d, err := fn(vec(t, 0, 0), vec(t, 3, 4))
	require.NoError(t, err)
	require.InDelta(t, 7.0, d, 1e-9)
}

func TestChebyshevKnownValue(t *testing.T) {
	fn, err := distance.New(distance.Params{Metric: distance.Chebyshev})
	require.NoError(t, err)
	d, err := fn(vec(t, 0, 0), vec(t, 3, 4))
	require.NoError(t, err)
	require.InDelta(t, 4.0, d, 1e-9)
}

func TestMinkowskiMatchesEuclideanAtP2(t *testing.T) {
	fn, err := distance.New(distance.Params{Metric: distance.Minkowski, P: 2})
	require.NoError(t, err)
	d, err := fn(vec(t, 0, 0), vec(t, 3, 4))
	require.NoError(t, err)
	require.InDelta(t, 5.0, d, 1e-9)
}

func TestMinkowskiRejectsNonPositiveOrder(t *testing.T) {
	_, err := distance.New(distance.Params{Metric: distance.Minkowski, P: 0})
	require.Error(t, err)
}

func TestCosineParallelVectorsIsZero(t *testing.T) {
	fn, err := distance.New(distance.Params{Metric: distance.Cosine})
	require.NoError(t, err)
	d, err := fn(vec(t, 1, 2, 3), vec(t, 2, 4, 6))
	require.NoError(t, err)
	require.InDelta(t, 0.0, d, 1e-9)
}

func TestCosineZeroVectorIsInvalid(t *testing.T) {
	fn, err := distance.New(distance.Params{Metric: distance.Cosine})
	require.NoError(t, err)
	_, err = fn(vec(t, 0, 0), vec(t, 1, 1))
	require.ErrorIs(t, err, distance.ErrInvalidVectorDistance)
}

func TestDimensionMismatchErrors(t *testing.T) {
	fn, err := distance.New(distance.Params{Metric: distance.Euclidean})
	require.NoError(t, err)
	_, err = fn(vec(t, 1, 2), vec(t, 1, 2, 3))
	require.Error(t, err)
}

func TestSymmetry(t *testing.T) {
	fn, err := distance.New(distance.Params{Metric: distance.Euclidean})
	require.NoError(t, err)
	a, b := vec(t, 1, 2, 3), vec(t, 4, 5, 6)
	d1, err := fn(a, b)
	require.NoError(t, err)
	d2, err := fn(b, a)
	require.NoError(t, err)
	require.InDelta(t, d1, d2, 1e-9)
}

func TestTriangleInequality(t *testing.T) {
	fn, err := distance.New(distance.Params{Metric: distance.Euclidean})
	require.NoError(t, err)
	a, b, c := vec(t, 0, 0), vec(t, 1, 1), vec(t, 5, 5)
	dab, _ := fn(a, b)
	dbc, _ := fn(b, c)
	dac, _ := fn(a, c)
	require.LessOrEqual(t, dac, dab+dbc+1e-9)
}
