package headless

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// kernelTag marks bytecode that names a CPU kernel instead of carrying SPIR-V.
const kernelTag uint32 = 0x4c4b524e

/**
 * @brief A CPU stand-in for a compute shader. Run is called once per
 * invocation, in workgroup order.
 */
type Kernel struct {
	Name          string
	WorkgroupSize [3]uint32
	Run           func(inv *Invocation)
}

// KernelResolver picks the kernel that executes a pipeline.
type KernelResolver func(pipeline *metadata.ComputePipeline, code []uint32) (*Kernel, error)

type Kernels map[string]*Kernel

func (ks Kernels) Add(k *Kernel) Kernels {
	ks[k.Name] = k
	return ks
}

// Resolve prefers a kernel tag embedded in the bytecode, then the pipeline label.
func (ks Kernels) Resolve(pipeline *metadata.ComputePipeline, code []uint32) (*Kernel, error) {
	if name, ok := KernelName(code); ok {
		if k, ok := ks[name]; ok {
			return k, nil
		}
		return nil, fmt.Errorf("bytecode names unknown kernel `%s`", name)
	}
	if k, ok := ks[pipeline.Label]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("no kernel for pipeline `%s`", pipeline.Label)
}

// TagBytecode builds a SPIR-V shaped blob naming a kernel.
func TagBytecode(name string) []byte {
	padded := (len(name) + 3) &^ 3
	out := make([]byte, 12+padded)
	binary.LittleEndian.PutUint32(out[0:], loaders.SpirvMagic)
	binary.LittleEndian.PutUint32(out[4:], kernelTag)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(name)))
	copy(out[12:], name)
	return out
}

func KernelName(code []uint32) (string, bool) {
	if len(code) < 3 || code[0] != loaders.SpirvMagic || code[1] != kernelTag {
		return "", false
	}
	n := int(code[2])
	if n > (len(code)-3)*4 {
		return "", false
	}
	raw := make([]byte, 0, n)
	for _, w := range code[3:] {
		raw = binary.LittleEndian.AppendUint32(raw, w)
	}
	return string(raw[:n]), true
}

type boundImage struct {
	image *Image
	kind  metadata.BindingKind
}

/**
 * @brief What a kernel sees for a single invocation.
 */
type Invocation struct {
	ID [3]uint32

	bindings []*boundImage
	push     []byte
	dispatch *dispatchState
}

type dispatchState struct {
	label  string
	errors int
	first  error
}

func (d *dispatchState) fail(format string, args ...interface{}) {
	d.errors++
	if d.first == nil {
		d.first = fmt.Errorf("%s: %s", d.label, fmt.Sprintf(format, args...))
	}
}

func (inv *Invocation) bound(binding uint32) *boundImage {
	if int(binding) >= len(inv.bindings) || inv.bindings[binding] == nil {
		inv.dispatch.fail("binding %d is not bound", binding)
		return nil
	}
	return inv.bindings[binding]
}

// Size returns the extent of the image at binding in set 0.
func (inv *Invocation) Size(binding uint32) (uint32, uint32) {
	b := inv.bound(binding)
	if b == nil {
		return 0, 0
	}
	return b.image.Width, b.image.Height
}

func (inv *Invocation) Load(binding uint32) [4]float32 {
	return inv.LoadAt(binding, inv.ID[0], inv.ID[1])
}

func (inv *Invocation) LoadAt(binding, x, y uint32) [4]float32 {
	b := inv.bound(binding)
	if b == nil {
		return [4]float32{}
	}
	if !b.kind.Readable() {
		inv.dispatch.fail("read from %s binding %d", b.kind, binding)
		return [4]float32{}
	}
	if !b.image.contains(x, y) {
		return [4]float32{}
	}
	return b.image.At(x, y)
}

// Store drops writes outside the image like a storage image would.
func (inv *Invocation) Store(binding uint32, v [4]float32) {
	b := inv.bound(binding)
	if b == nil {
		return
	}
	if !b.kind.Writable() {
		inv.dispatch.fail("write to %s binding %d", b.kind, binding)
		return
	}
	x, y := inv.ID[0], inv.ID[1]
	if !b.image.contains(x, y) {
		return
	}
	b.image.Set(x, y, Quantize(b.image.Format, v))
}

// Add is an atomic add on the red channel of a read-write binding.
func (inv *Invocation) Add(binding uint32, delta float32) {
	b := inv.bound(binding)
	if b == nil {
		return
	}
	if b.kind != metadata.BindingKindReadWriteStorageImage {
		inv.dispatch.fail("atomic on %s binding %d", b.kind, binding)
		return
	}
	x, y := inv.ID[0], inv.ID[1]
	if !b.image.contains(x, y) {
		return
	}
	v := b.image.At(x, y)
	v[0] += delta
	b.image.Set(x, y, v)
}

func (inv *Invocation) PushConstants() []byte {
	return inv.push
}

// PushUint32 reads the i-th 32 bit push constant word.
func (inv *Invocation) PushUint32(i int) uint32 {
	if (i+1)*4 > len(inv.push) {
		return 0
	}
	return binary.LittleEndian.Uint32(inv.push[i*4:])
}

func (inv *Invocation) PushFloat32(i int) float32 {
	return math.Float32frombits(inv.PushUint32(i))
}
