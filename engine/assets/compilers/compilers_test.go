package compilers

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDXCArgs(t *testing.T) {
	d := NewDXC("")
	req := &Request{
		SourcePath:  "assets/shaders/path_tracer_entry.hlsl",
		Profile:     "cs_6_5",
		Entry:       "main",
		Defines:     metadata.Defines{"SAMPLES": "4", "INIT": "1"},
		IncludeDirs: []string{"assets/shaders"},
		Debug:       true,
	}
	args := d.Args(req, "out.spv")
	assert.Equal(t, []string{
		"-T", "cs_6_5",
		"-E", "main",
		"-spirv",
		"-fspv-target-env=vulkan1.2",
		"-fvk-use-scalar-layout",
		"-fspv-extension=SPV_EXT_descriptor_indexing",
		"-I", "assets/shaders",
		"-D", "INIT=1",
		"-D", "SAMPLES=4",
		"-Zi", "-Qembed_debug",
		"-Fo", "out.spv",
		"assets/shaders/path_tracer_entry.hlsl",
	}, args)

	req.Debug = false
	req.Defines = nil
	args = d.Args(req, "o.spv")
	assert.Contains(t, args, "-O3")
	assert.NotContains(t, args, "-Zi")
	assert.NotContains(t, args, "-D")
}

func TestDXCCompileReadsOutput(t *testing.T) {
	d := NewDXC("dxc")
	d.run = func(ctx context.Context, name string, args []string) (string, error) {
		assert.Equal(t, "dxc", name)
		var out string
		for i, a := range args {
			if a == "-Fo" {
				out = args[i+1]
			}
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, 0x07230203)
		return "", os.WriteFile(out, b, 0o644)
	}

	code, err := d.Compile(context.Background(), &Request{SourcePath: "a.hlsl", Profile: "cs_6_5"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x02, 0x23, 0x07}, code)
}

func TestDXCCompileFailureKeepsOutput(t *testing.T) {
	d := NewDXC("dxc")
	d.run = func(ctx context.Context, name string, args []string) (string, error) {
		return "a.hlsl:3:5: error: use of undeclared identifier 'foo'\n", errors.New("exit status 1")
	}

	_, err := d.Compile(context.Background(), &Request{SourcePath: "a.hlsl", Profile: "cs_6_5", Entry: "main"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrShaderCompile)

	var sce *core.ShaderCompileError
	require.True(t, errors.As(err, &sce))
	assert.Contains(t, sce.Output, "undeclared identifier")
	assert.False(t, core.IsFatal(err))
}

func TestRouterPicksByExtension(t *testing.T) {
	var used string
	hlsl := CompilerFunc(func(context.Context, *Request) ([]byte, error) { used = "hlsl"; return nil, nil })
	wgsl := CompilerFunc(func(context.Context, *Request) ([]byte, error) { used = "wgsl"; return nil, nil })
	r := NewRouter(hlsl).Register(".wgsl", wgsl)

	_, _ = r.Compile(context.Background(), &Request{SourcePath: "shaders/tonemap.WGSL"})
	assert.Equal(t, "wgsl", used)
	_, _ = r.Compile(context.Background(), &Request{SourcePath: "shaders/pt.hlsl"})
	assert.Equal(t, "hlsl", used)
}

const fillWGSL = `
@group(0) @binding(0) var<storage, read_write> data: array<f32>;

@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    data[id.x] = 1.0;
}
`

func TestNagaCompile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "fill.wgsl")
	require.NoError(t, os.WriteFile(src, []byte(fillWGSL), 0o644))

	code, err := NewNaga().Compile(context.Background(), &Request{SourcePath: src, Profile: "wgsl", Entry: "main"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(code), 20)
	assert.Equal(t, uint32(0x07230203), binary.LittleEndian.Uint32(code))
}

func TestNagaCompileError(t *testing.T) {
	src := filepath.Join(t.TempDir(), "broken.wgsl")
	require.NoError(t, os.WriteFile(src, []byte("fn main( {"), 0o644))

	_, err := NewNaga().Compile(context.Background(), &Request{SourcePath: src, Profile: "wgsl"})
	assert.ErrorIs(t, err, core.ErrShaderCompile)
}

func TestNagaDefinesBecomeConstants(t *testing.T) {
	got := withDefines("fn main() {}", &Request{Defines: metadata.Defines{"INIT": "", "SCALE": "2.0"}})
	assert.Equal(t, "const INIT = true;\nconst SCALE = 2.0;\nfn main() {}", got)
}
