package headless

import (
	stdmath "math"
)

// Push constant word offsets shared with views.PathTracerConstants.
const (
	pushFrame = iota
	pushWidth
	pushHeight
	pushSample
	pushEyeX
	pushEyeY
	pushEyeZ
	pushTanHalfFov
	pushForwardX
	pushForwardY
	pushForwardZ
	pushAspect
	pushRightX
	pushRightY
	pushRightZ
	_
	pushUpX
	pushUpY
	pushUpZ
)

/**
 * @brief CPU versions of the shaders under assets/shaders. They render a
 * sphere over a checker floor and accumulate jittered samples.
 */
func ReferenceKernels() Kernels {
	return Kernels{}.
		Add(&Kernel{Name: "path_tracer_init", WorkgroupSize: [3]uint32{8, 8, 1}, Run: pathTracerInit}).
		Add(&Kernel{Name: "path_tracer_update", WorkgroupSize: [3]uint32{8, 8, 1}, Run: pathTracerUpdate}).
		Add(&Kernel{Name: "tonemap", WorkgroupSize: [3]uint32{8, 8, 1}, Run: tonemap})
}

func pathTracerInit(inv *Invocation) {
	w, h := inv.Size(1)
	if inv.ID[0] >= w || inv.ID[1] >= h {
		return
	}
	inv.Store(1, shade(inv))
}

func pathTracerUpdate(inv *Invocation) {
	w, h := inv.Size(1)
	if inv.ID[0] >= w || inv.ID[1] >= h {
		return
	}
	prev := inv.Load(0)
	sample := shade(inv)
	n := float32(inv.PushUint32(pushSample))
	var out [4]float32
	for c := 0; c < 3; c++ {
		out[c] = prev[c] + (sample[c]-prev[c])/(n+1)
	}
	out[3] = 1
	inv.Store(1, out)
}

func tonemap(inv *Invocation) {
	w, h := inv.Size(1)
	if inv.ID[0] >= w || inv.ID[1] >= h {
		return
	}
	v := inv.Load(0)
	for c := 0; c < 3; c++ {
		v[c] = v[c] / (1 + v[c])
	}
	v[3] = 1
	inv.Store(1, v)
}

type vec3 [3]float64

func (a vec3) add(b vec3) vec3      { return vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a vec3) scale(s float64) vec3 { return vec3{a[0] * s, a[1] * s, a[2] * s} }
func (a vec3) dot(b vec3) float64   { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func (a vec3) normalize() vec3 {
	l := stdmath.Sqrt(a.dot(a))
	if l == 0 {
		return a
	}
	return a.scale(1 / l)
}

func (inv *Invocation) pushVec3(i int) vec3 {
	return vec3{float64(inv.PushFloat32(i)), float64(inv.PushFloat32(i + 1)), float64(inv.PushFloat32(i + 2))}
}

// hash is a small integer hash (pcg) used for sub-pixel jitter.
func hash(v uint32) uint32 {
	state := v*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

func shade(inv *Invocation) [4]float32 {
	x, y := inv.ID[0], inv.ID[1]
	w, h := inv.Size(1)
	frame := inv.PushUint32(pushFrame)

	seed := hash(x + y*w + frame*w*h)
	jx := float64(seed&0xffff) / 65536
	jy := float64(hash(seed)&0xffff) / 65536

	u := (2*(float64(x)+jx)/float64(w) - 1)
	v := 1 - 2*(float64(y)+jy)/float64(h)

	eye := inv.pushVec3(pushEyeX)
	forward := inv.pushVec3(pushForwardX)
	right := inv.pushVec3(pushRightX)
	up := inv.pushVec3(pushUpX)
	tanHalf := float64(inv.PushFloat32(pushTanHalfFov))
	aspect := float64(inv.PushFloat32(pushAspect))
	if forward.dot(forward) == 0 {
		eye, forward, right, up = vec3{0, 0, 3}, vec3{0, 0, -1}, vec3{1, 0, 0}, vec3{0, 1, 0}
		tanHalf, aspect = 0.5, float64(w)/float64(h)
	}

	dir := forward.add(right.scale(u * tanHalf * aspect)).add(up.scale(v * tanHalf)).normalize()
	c := trace(eye, dir)
	return [4]float32{float32(c[0]), float32(c[1]), float32(c[2]), 1}
}

func trace(origin, dir vec3) vec3 {
	sun := vec3{0.5, 0.8, 0.3}.normalize()

	// unit sphere at the origin
	b := origin.dot(dir)
	cc := origin.dot(origin) - 1
	if disc := b*b - cc; disc > 0 {
		if t := -b - stdmath.Sqrt(disc); t > 0 {
			n := origin.add(dir.scale(t)).normalize()
			diffuse := stdmath.Max(0, n.dot(sun))
			return vec3{0.8, 0.3, 0.2}.scale(0.1 + diffuse)
		}
	}

	// floor at y = -1
	if dir[1] < 0 {
		t := (-1 - origin[1]) / dir[1]
		p := origin.add(dir.scale(t))
		checker := (int(stdmath.Floor(p[0])) + int(stdmath.Floor(p[2]))) & 1
		base := 0.2 + 0.6*float64(checker)
		return vec3{base, base, base}.scale(0.2 + sun[1]*0.8)
	}

	sky := 0.5 * (dir[1] + 1)
	return vec3{1, 1, 1}.scale(1 - sky).add(vec3{0.5, 0.7, 1.0}.scale(sky))
}
