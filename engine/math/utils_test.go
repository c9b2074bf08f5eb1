package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, Clamp(5, 1, 3))
	assert.Equal(t, 1, Clamp(-2, 1, 3))
	assert.Equal(t, float32(0.5), Clamp(float32(0.5), 0, 1))
}

func TestDispatchSize(t *testing.T) {
	x, y, z := DispatchSize(1920, 1080, 8)
	assert.Equal(t, uint32(240), x)
	assert.Equal(t, uint32(135), y)
	assert.Equal(t, uint32(1), z)

	x, y, _ = DispatchSize(1921, 1, 8)
	assert.Equal(t, uint32(241), x)
	assert.Equal(t, uint32(1), y)
}

func TestInverseOfTranslation(t *testing.T) {
	m := NewMat4Translation(NewVec3(1, 2, 3))
	inv := m.Inverse()
	assert.Equal(t, float32(-1), inv.Data[12])
	assert.Equal(t, float32(-2), inv.Data[13])
	assert.Equal(t, float32(-3), inv.Data[14])
	id := m.Mul(inv)
	for i, want := range NewMat4Identity().Data {
		assert.InDelta(t, want, id.Data[i], 1e-5)
	}
}

func TestViewBasis(t *testing.T) {
	view := NewMat4Identity().Inverse()
	assert.True(t, view.Forward().Compare(NewVec3Forward(), K_FLOAT_EPSILON))
	assert.True(t, view.Right().Compare(NewVec3(1, 0, 0), K_FLOAT_EPSILON))
	assert.True(t, view.Up().Compare(NewVec3Up(), K_FLOAT_EPSILON))

	// yaw a quarter turn to the left: forward becomes -x
	view = NewMat4EulerY(DegToRad(90)).Inverse()
	assert.True(t, view.Forward().Compare(NewVec3(-1, 0, 0), 1e-5), "%v", view.Forward())
}

func TestNormalizeZero(t *testing.T) {
	assert.Equal(t, NewVec3Zero(), NewVec3Zero().Normalize())
	assert.InDelta(t, 1, NewVec3(3, 4, 0).Normalize().Length(), 1e-6)
}
