package components

import (
	"github.com/spaghettifunk/lumen/engine/math"
)

/**
 * @brief The camera the path tracer shoots primary rays from. Every change
 * bumps Revision so accumulated samples can be thrown away.
 */
type Camera struct {
	/**
	 * @brief The position of this camera.
	 * NOTE: Do not set this directly, use SetPosition() instead
	 * so the view matrix is recalculated when needed.
	 */
	Position math.Vec3
	/**
	 * @brief The rotation of this camera using Euler angles (pitch, yaw, roll).
	 */
	EulerRotation math.Vec3
	/** @brief Vertical field of view. */
	FovRadians float32
	/** @brief Internal flag used to determine when the view matrix needs to be rebuilt. */
	IsDirty bool
	ViewMatrix math.Mat4
	Revision   uint64
}

// CameraBasis is what the compute shader needs to build a ray per pixel.
type CameraBasis struct {
	Position   math.Vec3
	Forward    math.Vec3
	Right      math.Vec3
	Up         math.Vec3
	TanHalfFov float32
}

const DefaultFovDegrees float32 = 45

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.EulerRotation = math.NewVec3Zero()
	c.Position = math.NewVec3(0, 0, 3)
	c.FovRadians = math.DegToRad(DefaultFovDegrees)
	c.IsDirty = true
	c.Revision++
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.touch()
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.EulerRotation = rotation
	c.touch()
}

func (c *Camera) SetFov(radians float32) {
	c.FovRadians = math.Clamp(radians, math.DegToRad(1), math.DegToRad(170))
	c.touch()
}

func (c *Camera) touch() {
	c.IsDirty = true
	c.Revision++
}

func (c *Camera) GetView() math.Mat4 {
	if c.IsDirty {
		rotation := math.NewMat4EulerXYZ(c.EulerRotation.X, c.EulerRotation.Y, c.EulerRotation.Z)
		translation := math.NewMat4Translation(c.Position)

		c.ViewMatrix = rotation.Mul(translation).Inverse()
		c.IsDirty = false
	}
	return c.ViewMatrix
}

func (c *Camera) Basis() CameraBasis {
	view := c.GetView()
	return CameraBasis{
		Position:   c.Position,
		Forward:    view.Forward(),
		Right:      view.Right(),
		Up:         view.Up(),
		TanHalfFov: math.Tan(c.FovRadians * 0.5),
	}
}

func (c *Camera) move(direction math.Vec3, amount float32) {
	if amount == 0 {
		return
	}
	c.Position = c.Position.Add(direction.MulScalar(amount))
	c.touch()
}

func (c *Camera) MoveForward(amount float32) {
	c.move(c.GetView().Forward(), amount)
}

func (c *Camera) MoveBackward(amount float32) {
	c.move(c.GetView().Backward(), amount)
}

func (c *Camera) MoveLeft(amount float32) {
	c.move(c.GetView().Left(), amount)
}

func (c *Camera) MoveRight(amount float32) {
	c.move(c.GetView().Right(), amount)
}

func (c *Camera) MoveUp(amount float32) {
	c.move(math.NewVec3Up(), amount)
}

func (c *Camera) MoveDown(amount float32) {
	c.move(math.NewVec3Down(), amount)
}

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation.Y += amount
	c.touch()
}

func (c *Camera) Pitch(amount float32) {
	c.EulerRotation.X += amount

	// Clamp to avoid Gimbal lock.
	limit := float32(1.55334306) // 89 degrees
	c.EulerRotation.X = math.Clamp(c.EulerRotation.X, -limit, limit)
	c.touch()
}
