package components

import (
	"testing"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/stretchr/testify/assert"
)

func TestDefaultCameraLooksDownNegativeZ(t *testing.T) {
	c := NewCamera()
	b := c.Basis()
	assert.True(t, b.Forward.Compare(math.NewVec3Forward(), 1e-6))
	assert.True(t, b.Up.Compare(math.NewVec3Up(), 1e-6))
	assert.Equal(t, math.NewVec3(0, 0, 3), b.Position)
	assert.InDelta(t, 0.4142, b.TanHalfFov, 1e-3)
}

func TestMovingBumpsRevision(t *testing.T) {
	c := NewCamera()
	rev := c.Revision
	c.MoveForward(1)
	assert.Greater(t, c.Revision, rev)
	assert.True(t, c.Position.Compare(math.NewVec3(0, 0, 2), 1e-6))

	rev = c.Revision
	c.MoveForward(0)
	assert.Equal(t, rev, c.Revision)

	c.Pitch(10)
	assert.InDelta(t, 1.55334306, c.EulerRotation.X, 1e-6)
}
