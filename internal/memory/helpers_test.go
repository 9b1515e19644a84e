package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloat32SliceRoundTrip(t *testing.T) {
	in := []float32{0.1, -0.5, 3.25, 0}
	blob := Float32SliceToBytes(in)
	out := BytesToFloat32Slice(blob)
	assert.Equal(t, in, out)
}

func TestBytesToFloat32SliceRejectsUnalignedInput(t *testing.T) {
	assert.Nil(t, BytesToFloat32Slice([]byte{1, 2, 3}))
}

func TestFloat32SliceToBytesNilInput(t *testing.T) {
	assert.Nil(t, Float32SliceToBytes(nil))
}

func TestCosineSimilarityIdenticalVectors(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityOrthogonalVectors(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
}

func TestCosineSimilarityMismatchedLengthsReturnsZero(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1}))
}

func TestCosineSimilarityZeroVectorReturnsZero(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestCosineSimilarityClampedToUnitInterval(t *testing.T) {
	a := []float32{1, 1}
	b := []float32{1, 1}
	sim := CosineSimilarity(a, b)
	assert.LessOrEqual(t, sim, 1.0)
	assert.GreaterOrEqual(t, sim, 0.0)
}

func TestNormalizeVectorUnitLength(t *testing.T) {
	out := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 1.0, L2Norm(out), 1e-6)
}

func TestNormalizeVectorZeroVectorUnchanged(t *testing.T) {
	in := []float32{0, 0, 0}
	assert.Equal(t, in, NormalizeVector(in))
}

func TestTopKWithScoresReturnsDescending(t *testing.T) {
	items := []ScoredItem[string]{
		{Item: "a", Score: 0.2},
		{Item: "b", Score: 0.9},
		{Item: "c", Score: 0.5},
	}
	top := TopKWithScores(items, 2)
	want := []string{"b", "c"}
	got := []string{top[0].Item, top[1].Item}
	assert.Equal(t, want, got)
}

func TestTopKWithScoresKGreaterThanLen(t *testing.T) {
	items := []ScoredItem[int]{{Item: 1, Score: 0.1}, {Item: 2, Score: 0.5}}
	top := TopKWithScores(items, 10)
	assert.Len(t, top, 2)
	assert.Equal(t, 2, top[0].Item)
}

func TestTopKWithScoresZeroKReturnsNil(t *testing.T) {
	assert.Nil(t, TopKWithScores([]ScoredItem[int]{{Item: 1, Score: 1}}, 0))
}
