package systems

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spaghettifunk/lumen/engine/assets/compilers"
	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/stretchr/testify/require"
)

// fakeCompiler turns the source text into a fake SPIR-V module and counts
// invocations. Sources containing "#error" fail to compile.
type fakeCompiler struct {
	mutex    sync.Mutex
	requests []compilers.Request
}

func (f *fakeCompiler) Compile(ctx context.Context, req *compilers.Request) ([]byte, error) {
	f.mutex.Lock()
	f.requests = append(f.requests, *req)
	f.mutex.Unlock()

	src, err := os.ReadFile(req.SourcePath)
	if err != nil {
		return nil, &core.ShaderCompileError{Path: req.SourcePath, Profile: req.Profile, Entry: req.Entry, Err: err}
	}
	if bytes.Contains(src, []byte("#error")) {
		return nil, &core.ShaderCompileError{
			Path:    req.SourcePath,
			Profile: req.Profile,
			Entry:   req.Entry,
			Output:  "error: forced failure",
		}
	}
	return fakeSpirv(string(src) + "|" + req.Entry + "|" + req.Defines.Canonical()), nil
}

func (f *fakeCompiler) Calls() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.requests)
}

func fakeSpirv(payload string) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, 0x07230203)
	b = append(b, []byte(payload)...)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

type shaderFixture struct {
	root     string
	cacheDir string
	compiler *fakeCompiler
}

func newShaderFixture(t *testing.T) *shaderFixture {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "shaders"), 0o755))
	return &shaderFixture{
		root:     root,
		cacheDir: filepath.Join(root, "spv", "bin"),
		compiler: &fakeCompiler{},
	}
}

func (f *shaderFixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := filepath.Join(f.root, rel)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// age pushes the modification time of a file into the past so a cache file
// written afterwards is strictly newer.
func (f *shaderFixture) age(t *testing.T, rel string) {
	t.Helper()
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(f.root, rel), past, past))
}

func (f *shaderFixture) config(force bool) *ShaderSystemConfig {
	return &ShaderSystemConfig{
		MaxShaderCount: 16,
		AssetRoot:      f.root,
		IncludeDir:     filepath.Join(f.root, "shaders"),
		CacheDir:       f.cacheDir,
		ForceRecompile: force,
		DebugInfo:      true,
	}
}

func (f *shaderFixture) system(t *testing.T, force bool, events *core.EventBus) *ShaderSystem {
	t.Helper()
	ss, err := NewShaderSystem(f.config(force), f.compiler, nil, nil, events)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Shutdown() })
	return ss
}

func bytecodeBytes(code []uint32) []byte {
	return loaders.BytecodeToBytes(code)
}
