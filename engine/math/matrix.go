package math

import m "math"

func NewMat4Identity() Mat4 {
	out := Mat4{}
	out.Data[0] = 1.0
	out.Data[5] = 1.0
	out.Data[10] = 1.0
	out.Data[15] = 1.0
	return out
}

func (mt Mat4) Mul(other Mat4) Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			sum := float32(0)
			for i := 0; i < 4; i++ {
				sum += mt.Data[row*4+i] * other.Data[i*4+col]
			}
			out.Data[row*4+col] = sum
		}
	}
	return out
}

func NewMat4Translation(position Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[12] = position.X
	out.Data[13] = position.Y
	out.Data[14] = position.Z
	return out
}

func NewMat4EulerX(radians float32) Mat4 {
	out := NewMat4Identity()
	c, s := sincos(radians)
	out.Data[5] = c
	out.Data[6] = s
	out.Data[9] = -s
	out.Data[10] = c
	return out
}

func NewMat4EulerY(radians float32) Mat4 {
	out := NewMat4Identity()
	c, s := sincos(radians)
	out.Data[0] = c
	out.Data[2] = -s
	out.Data[8] = s
	out.Data[10] = c
	return out
}

func NewMat4EulerZ(radians float32) Mat4 {
	out := NewMat4Identity()
	c, s := sincos(radians)
	out.Data[0] = c
	out.Data[1] = s
	out.Data[4] = -s
	out.Data[5] = c
	return out
}

/**
 * @brief Rotation about x, then y, then z.
 */
func NewMat4EulerXYZ(x, y, z float32) Mat4 {
	return NewMat4EulerX(x).Mul(NewMat4EulerY(y)).Mul(NewMat4EulerZ(z))
}

func sincos(radians float32) (float32, float32) {
	s, c := m.Sincos(float64(radians))
	return float32(c), float32(s)
}

/**
 * @brief Returns the inverse of mt. The matrix must be invertible.
 */
func (mt Mat4) Inverse() Mat4 {
	a := mt.Data

	t0 := a[10] * a[15]
	t1 := a[14] * a[11]
	t2 := a[6] * a[15]
	t3 := a[14] * a[7]
	t4 := a[6] * a[11]
	t5 := a[10] * a[7]
	t6 := a[2] * a[15]
	t7 := a[14] * a[3]
	t8 := a[2] * a[11]
	t9 := a[10] * a[3]
	t10 := a[2] * a[7]
	t11 := a[6] * a[3]
	t12 := a[8] * a[13]
	t13 := a[12] * a[9]
	t14 := a[4] * a[13]
	t15 := a[12] * a[5]
	t16 := a[4] * a[9]
	t17 := a[8] * a[5]
	t18 := a[0] * a[13]
	t19 := a[12] * a[1]
	t20 := a[0] * a[9]
	t21 := a[8] * a[1]
	t22 := a[0] * a[5]
	t23 := a[4] * a[1]

	var o [16]float32
	o[0] = (t0*a[5] + t3*a[9] + t4*a[13]) - (t1*a[5] + t2*a[9] + t5*a[13])
	o[1] = (t1*a[1] + t6*a[9] + t9*a[13]) - (t0*a[1] + t7*a[9] + t8*a[13])
	o[2] = (t2*a[1] + t7*a[5] + t10*a[13]) - (t3*a[1] + t6*a[5] + t11*a[13])
	o[3] = (t5*a[1] + t8*a[5] + t11*a[9]) - (t4*a[1] + t9*a[5] + t10*a[9])

	d := 1.0 / (a[0]*o[0] + a[4]*o[1] + a[8]*o[2] + a[12]*o[3])

	o[0] = d * o[0]
	o[1] = d * o[1]
	o[2] = d * o[2]
	o[3] = d * o[3]
	o[4] = d * ((t1*a[4] + t2*a[8] + t5*a[12]) - (t0*a[4] + t3*a[8] + t4*a[12]))
	o[5] = d * ((t0*a[0] + t7*a[8] + t8*a[12]) - (t1*a[0] + t6*a[8] + t9*a[12]))
	o[6] = d * ((t3*a[0] + t6*a[4] + t11*a[12]) - (t2*a[0] + t7*a[4] + t10*a[12]))
	o[7] = d * ((t4*a[0] + t9*a[4] + t10*a[8]) - (t5*a[0] + t8*a[4] + t11*a[8]))
	o[8] = d * ((t12*a[7] + t15*a[11] + t16*a[15]) - (t13*a[7] + t14*a[11] + t17*a[15]))
	o[9] = d * ((t13*a[3] + t18*a[11] + t21*a[15]) - (t12*a[3] + t19*a[11] + t20*a[15]))
	o[10] = d * ((t14*a[3] + t19*a[7] + t22*a[15]) - (t15*a[3] + t18*a[7] + t23*a[15]))
	o[11] = d * ((t17*a[3] + t20*a[7] + t23*a[11]) - (t16*a[3] + t21*a[7] + t22*a[11]))
	o[12] = d * ((t14*a[10] + t17*a[14] + t13*a[6]) - (t16*a[14] + t12*a[6] + t15*a[10]))
	o[13] = d * ((t20*a[14] + t12*a[2] + t19*a[10]) - (t18*a[10] + t21*a[14] + t13*a[2]))
	o[14] = d * ((t18*a[6] + t23*a[14] + t15*a[2]) - (t22*a[14] + t14*a[2] + t19*a[6]))
	o[15] = d * ((t22*a[10] + t16*a[2] + t21*a[6]) - (t20*a[6] + t23*a[10] + t17*a[2]))

	return Mat4{Data: o}
}

// Forward, Right and Up read the basis of a view matrix.
func (mt Mat4) Forward() Vec3 {
	return Vec3{-mt.Data[2], -mt.Data[6], -mt.Data[10]}.Normalize()
}

func (mt Mat4) Backward() Vec3 {
	return mt.Forward().MulScalar(-1)
}

func (mt Mat4) Right() Vec3 {
	return Vec3{mt.Data[0], mt.Data[4], mt.Data[8]}.Normalize()
}

func (mt Mat4) Left() Vec3 {
	return mt.Right().MulScalar(-1)
}

func (mt Mat4) Up() Vec3 {
	return Vec3{mt.Data[1], mt.Data[5], mt.Data[9]}.Normalize()
}
