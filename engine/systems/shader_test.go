package systems

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ptPath = "shaders/path_tracer_entry.hlsl"

func TestShaderLoadReturnsSameHandle(t *testing.T) {
	f := newShaderFixture(t)
	f.write(t, ptPath, "// v1")
	ss := f.system(t, false, nil)

	a, err := ss.Load(ptPath, "cs_6_5")
	require.NoError(t, err)
	b, err := ss.Load("shaders/./path_tracer_entry.hlsl", "cs_6_5")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, f.compiler.Calls())

	c, err := ss.Load(ptPath, "cs_6_0")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	stage, ok := ss.Stage(a)
	require.True(t, ok)
	assert.Equal(t, metadata.ShaderStageCompute, stage)

	_, err = ss.Load(ptPath, "lib_6_3")
	assert.Error(t, err)
}

func TestShaderCompilerArguments(t *testing.T) {
	f := newShaderFixture(t)
	f.write(t, ptPath, "// v1")
	ss := f.system(t, false, nil)

	_, err := ss.Load(ptPath, "cs_6_5")
	require.NoError(t, err)
	require.Equal(t, 1, f.compiler.Calls())

	req := f.compiler.requests[0]
	assert.Equal(t, filepath.Join(f.root, "shaders", "path_tracer_entry.hlsl"), req.SourcePath)
	assert.Equal(t, "cs_6_5", req.Profile)
	assert.Equal(t, "main", req.Entry)
	assert.Equal(t, []string{filepath.Join(f.root, "shaders")}, req.IncludeDirs)
	assert.True(t, req.Debug)

	_, err = os.Stat(filepath.Join(f.cacheDir, "path_tracer_entry_cs_6_5.spv"))
	assert.NoError(t, err)
}

func TestShaderFreshCacheSkipsCompiler(t *testing.T) {
	f := newShaderFixture(t)
	f.write(t, ptPath, "// v1")
	f.age(t, ptPath)

	first := f.system(t, false, nil)
	h, err := first.Load(ptPath, "cs_6_5")
	require.NoError(t, err)
	require.Equal(t, 1, f.compiler.Calls())
	want, err := first.Bytecode(h, "main", nil)
	require.NoError(t, err)

	// a second run against unchanged sources compiles nothing
	for run := 0; run < 2; run++ {
		again := f.system(t, false, nil)
		h2, err := again.Load(ptPath, "cs_6_5")
		require.NoError(t, err)
		assert.True(t, again.Ready(h2))

		got, err := again.Bytecode(h2, "main", nil)
		require.NoError(t, err)
		assert.Equal(t, want.Code, got.Code)

		stats, _ := again.Stats(h2)
		assert.Equal(t, uint64(0), stats.Compiles)
		assert.Equal(t, uint64(1), stats.CacheHits)
	}
	assert.Equal(t, 1, f.compiler.Calls())
}

func TestShaderForceRecompileIgnoresCache(t *testing.T) {
	f := newShaderFixture(t)
	f.write(t, ptPath, "// v1")
	f.age(t, ptPath)

	_, err := f.system(t, false, nil).Load(ptPath, "cs_6_5")
	require.NoError(t, err)

	forced := f.system(t, true, nil)
	h, err := forced.Load(ptPath, "cs_6_5")
	require.NoError(t, err)
	assert.Equal(t, 2, f.compiler.Calls())
	stats, _ := forced.Stats(h)
	assert.Equal(t, uint64(1), stats.Compiles)
}

func TestShaderStaleCacheRecompiles(t *testing.T) {
	f := newShaderFixture(t)
	f.write(t, ptPath, "// v1")
	f.age(t, ptPath)
	_, err := f.system(t, false, nil).Load(ptPath, "cs_6_5")
	require.NoError(t, err)

	f.write(t, ptPath, "// v2")
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(f.root, ptPath), future, future))

	_, err = f.system(t, false, nil).Load(ptPath, "cs_6_5")
	require.NoError(t, err)
	assert.Equal(t, 2, f.compiler.Calls())
}

func TestShaderFirstFailureIsNotReady(t *testing.T) {
	f := newShaderFixture(t)
	f.write(t, ptPath, "#error")
	ss := f.system(t, false, nil)

	h, err := ss.Load(ptPath, "cs_6_5")
	require.NoError(t, err)
	assert.NotEqual(t, core.InvalidHandle, h)
	assert.False(t, ss.Ready(h))

	_, err = ss.Bytecode(h, "main", nil)
	assert.ErrorIs(t, err, ErrShaderNotReady)
	assert.ErrorIs(t, err, core.ErrPipelineNotReady)

	stats, _ := ss.Stats(h)
	assert.Equal(t, uint64(1), stats.Failures)
	assert.ErrorIs(t, stats.LastError, core.ErrShaderCompile)

	f.write(t, ptPath, "// fixed")
	require.NoError(t, ss.Reload(ptPath))
	assert.True(t, ss.Ready(h))
}

func TestShaderReloadKeepsLastGood(t *testing.T) {
	f := newShaderFixture(t)
	f.write(t, ptPath, "// good")
	ss := f.system(t, false, nil)

	h, err := ss.Load(ptPath, "cs_6_5")
	require.NoError(t, err)
	good, err := ss.Bytecode(h, "main", nil)
	require.NoError(t, err)

	f.write(t, ptPath, "#error")
	err = ss.Reload(ptPath)
	require.Error(t, err)
	var sce *core.ShaderCompileError
	assert.True(t, errors.As(err, &sce))
	assert.Contains(t, sce.Output, "forced failure")

	still, err := ss.Bytecode(h, "main", nil)
	require.NoError(t, err)
	assert.Same(t, good, still)
	assert.True(t, ss.Ready(h))
}

func TestShaderReloadNotifiesListeners(t *testing.T) {
	f := newShaderFixture(t)
	f.write(t, ptPath, "// v1")
	bus := core.NewEventBus()
	ss := f.system(t, false, bus)

	var got []core.EventContext
	bus.Register(core.EVENT_CODE_SHADER_RELOADED, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		got = append(got, data)
		return false
	})

	h, err := ss.Load(ptPath, "cs_6_5")
	require.NoError(t, err)
	before, _ := ss.Bytecode(h, "main", nil)
	assert.Empty(t, got)

	f.write(t, ptPath, "// v2")
	require.NoError(t, ss.Reload(ptPath))
	require.Len(t, got, 1)
	assert.Equal(t, uint64(h), got[0].U64[0])
	assert.Equal(t, ptPath, got[0].C[0])

	after, _ := ss.Bytecode(h, "main", nil)
	assert.NotEqual(t, before.Code, after.Code)
	assert.Greater(t, after.Generation, before.Generation)
	assert.Equal(t, after.Generation, got[0].U64[1])

	// identical content publishes nothing
	f.write(t, ptPath, "// v2")
	require.NoError(t, ss.Reload(ptPath))
	assert.Len(t, got, 1)
}

func TestShaderMemoSkipsCompilerOnRevert(t *testing.T) {
	f := newShaderFixture(t)
	f.write(t, ptPath, "// v1")
	ss := f.system(t, false, nil)

	h, err := ss.Load(ptPath, "cs_6_5")
	require.NoError(t, err)

	f.write(t, ptPath, "// v2")
	require.NoError(t, ss.Reload(ptPath))
	f.write(t, ptPath, "// v1")
	require.NoError(t, ss.Reload(ptPath))

	assert.Equal(t, 2, f.compiler.Calls())
	code, err := ss.Bytecode(h, "main", nil)
	require.NoError(t, err)
	assert.Equal(t, fakeSpirv("// v1|main|"), bytecodeBytes(code.Code))
}

func TestShaderVariants(t *testing.T) {
	f := newShaderFixture(t)
	f.write(t, ptPath, "// v1")
	ss := f.system(t, false, nil)

	h, err := ss.Load(ptPath, "cs_6_5")
	require.NoError(t, err)
	require.NoError(t, ss.Specialize(h, "main", metadata.Defines{"INIT": "1"}))
	assert.Equal(t, 2, f.compiler.Calls())
	assert.Equal(t, metadata.Defines{"INIT": "1"}, f.compiler.requests[1].Defines)

	initCode, err := ss.Bytecode(h, "main", metadata.Defines{"INIT": "1"})
	require.NoError(t, err)
	def, err := ss.Bytecode(h, "", nil)
	require.NoError(t, err)
	assert.NotEqual(t, initCode.Code, def.Code)
	assert.Equal(t, 2, f.compiler.Calls())

	f.write(t, ptPath, "// v2")
	require.NoError(t, ss.Reload(ptPath))
	assert.Equal(t, 4, f.compiler.Calls())
}

func TestShaderHotReloadThroughWatcher(t *testing.T) {
	f := newShaderFixture(t)
	f.write(t, ptPath, "// v1")

	watcher, err := assets.NewWatcher(10 * time.Millisecond)
	require.NoError(t, err)
	defer watcher.Shutdown()
	js, err := NewJobSystem(1, 8)
	require.NoError(t, err)
	defer js.Shutdown()
	bus := core.NewEventBus()

	ss, err := NewShaderSystem(f.config(false), f.compiler, watcher, js, bus)
	require.NoError(t, err)
	defer ss.Shutdown()

	var mutex sync.Mutex
	reloaded := 0
	bus.Register(core.EVENT_CODE_SHADER_RELOADED, t, func(core.SystemEventCode, interface{}, interface{}, core.EventContext) bool {
		mutex.Lock()
		reloaded++
		mutex.Unlock()
		return false
	})

	h, err := ss.Load(ptPath, "cs_6_5")
	require.NoError(t, err)

	f.write(t, ptPath, "// v2")
	assert.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return reloaded == 1
	}, 3*time.Second, 10*time.Millisecond)

	code, err := ss.Bytecode(h, "main", nil)
	require.NoError(t, err)
	assert.Equal(t, fakeSpirv("// v2|main|"), bytecodeBytes(code.Code))
}
