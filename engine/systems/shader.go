package systems

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/assets/compilers"
	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// ErrShaderNotReady is returned while a handle has never compiled successfully.
var ErrShaderNotReady = fmt.Errorf("shader has no bytecode yet: %w", core.ErrPipelineNotReady)

var memoNamespace = uuid.MustParse("b0f6d1e4-3c2a-4e8b-9f71-5a6d2c9e0b34")

/** @brief Configuration for the shader system. */
type ShaderSystemConfig struct {
	/** @brief The maximum number of (path, profile) pairs held in the system. */
	MaxShaderCount uint16
	/** @brief Relative source paths are resolved against this directory. */
	AssetRoot string
	/** @brief Passed to the compiler as the include path. */
	IncludeDir string
	/** @brief Where compiled bytecode is persisted. Empty disables the disk cache. */
	CacheDir string
	/** @brief Ignore the disk cache on load. */
	ForceRecompile bool
	/** @brief Embed debug info in the bytecode. */
	DebugInfo bool
	/** @brief Number of compile outputs remembered by source content. */
	MemoSize int
}

type shaderVariant struct {
	variant  metadata.ShaderVariant
	defines  metadata.Defines
	compiled *metadata.CompiledShader
	lastErr  error
}

type shaderEntry struct {
	handle     metadata.ShaderHandle
	key        metadata.ShaderKey
	sourcePath string
	stage      metadata.ShaderStage
	generation uint64
	stats      metadata.ShaderStats
	variants   map[metadata.ShaderVariant]*shaderVariant

	// serializes compiles of this entry
	compileMutex sync.Mutex
}

type ShaderSystem struct {
	Config *ShaderSystemConfig

	mutex   sync.RWMutex
	lookup  map[metadata.ShaderKey]metadata.ShaderHandle
	handles *core.HandlePool
	// source path -> handles compiled from it
	bySource map[string][]metadata.ShaderHandle

	compiler compilers.Compiler
	cache    *loaders.BinaryLoader
	memo     *lru.Cache[uuid.UUID, []byte]

	// sub systems, all optional
	watcher   *assets.Watcher
	jobSystem *JobSystem
	events    *core.EventBus

	ctx    context.Context
	cancel context.CancelFunc
}

func NewShaderSystem(config *ShaderSystemConfig, compiler compilers.Compiler, watcher *assets.Watcher, js *JobSystem, events *core.EventBus) (*ShaderSystem, error) {
	if config == nil {
		err := fmt.Errorf("func NewShaderSystem - config must not be nil")
		core.LogError("%s", err)
		return nil, err
	}
	if config.MaxShaderCount == 0 {
		err := fmt.Errorf("func NewShaderSystem - config.MaxShaderCount must be greater than 0")
		core.LogError("%s", err)
		return nil, err
	}
	if compiler == nil {
		err := fmt.Errorf("func NewShaderSystem - a compiler is required")
		core.LogError("%s", err)
		return nil, err
	}
	memoSize := config.MemoSize
	if memoSize <= 0 {
		memoSize = 64
	}
	memo, err := lru.New[uuid.UUID, []byte](memoSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	ss := &ShaderSystem{
		Config:    config,
		lookup:    make(map[metadata.ShaderKey]metadata.ShaderHandle),
		handles:   core.NewHandlePool(int(config.MaxShaderCount)),
		bySource:  make(map[string][]metadata.ShaderHandle),
		compiler:  compiler,
		memo:      memo,
		watcher:   watcher,
		jobSystem: js,
		events:    events,
		ctx:       ctx,
		cancel:    cancel,
	}
	if config.CacheDir != "" {
		ss.cache = loaders.NewBinaryLoader(config.CacheDir)
	}
	return ss, nil
}

/**
 * @brief Shuts down the shader system. Pending compiles are cancelled.
 */
func (ss *ShaderSystem) Shutdown() error {
	ss.cancel()

	ss.mutex.Lock()
	defer ss.mutex.Unlock()
	if ss.watcher != nil {
		for src := range ss.bySource {
			ss.watcher.Unwatch(src)
		}
	}
	for key, h := range ss.lookup {
		if err := ss.handles.Release(h); err != nil {
			core.LogWarn("shader %s: %s", key, err)
		}
	}
	ss.lookup = make(map[metadata.ShaderKey]metadata.ShaderHandle)
	ss.bySource = make(map[string][]metadata.ShaderHandle)
	return nil
}

/**
 * @brief Returns the stable handle of (path, profile), compiling the default
 * variant on first load. A failed first compile still returns a handle; it
 * stays not ready until a later successful compile.
 */
func (ss *ShaderSystem) Load(path, profile string) (metadata.ShaderHandle, error) {
	if path == "" {
		return core.InvalidHandle, fmt.Errorf("shader path must not be empty")
	}
	stage, err := metadata.ShaderStageFromProfile(profile)
	if err != nil {
		return core.InvalidHandle, err
	}
	key := metadata.ShaderKey{Path: filepath.ToSlash(filepath.Clean(path)), Profile: profile}

	ss.mutex.Lock()
	if h, ok := ss.lookup[key]; ok {
		ss.mutex.Unlock()
		return h, nil
	}
	if ss.handles.Len() >= int(ss.Config.MaxShaderCount) {
		ss.mutex.Unlock()
		return core.InvalidHandle, fmt.Errorf("shader system is full (%d entries)", ss.Config.MaxShaderCount)
	}
	entry := &shaderEntry{
		key:        key,
		sourcePath: ss.resolve(key.Path),
		stage:      stage,
		variants:   make(map[metadata.ShaderVariant]*shaderVariant),
	}
	entry.handle = ss.handles.Acquire(entry)
	ss.lookup[key] = entry.handle
	_, watched := ss.bySource[entry.sourcePath]
	ss.bySource[entry.sourcePath] = append(ss.bySource[entry.sourcePath], entry.handle)
	ss.mutex.Unlock()

	if ss.watcher != nil && !watched {
		if err := ss.watcher.Watch(entry.sourcePath, ss.onSourceChanged); err != nil {
			core.LogWarn("shader %s will not hot reload: %s", key, err)
		}
	}

	def := metadata.NewShaderVariant(metadata.DefaultShaderEntry, nil)
	if _, err := ss.compileVariant(entry, def, nil, ss.Config.ForceRecompile); err != nil {
		core.LogError("shader %s is not ready: %s", key, err)
	}
	return entry.handle, nil
}

/**
 * @brief Makes sure the (entry, defines) variant of handle is compiled.
 */
func (ss *ShaderSystem) Specialize(handle metadata.ShaderHandle, entry string, defines metadata.Defines) error {
	_, err := ss.Bytecode(handle, entry, defines)
	return err
}

/**
 * @brief Returns the last good bytecode of a variant, compiling it on first use.
 */
func (ss *ShaderSystem) Bytecode(handle metadata.ShaderHandle, entry string, defines metadata.Defines) (*metadata.CompiledShader, error) {
	e, err := ss.entry(handle)
	if err != nil {
		return nil, err
	}
	variant := metadata.NewShaderVariant(entry, defines)

	ss.mutex.RLock()
	v, known := e.variants[variant]
	var compiled *metadata.CompiledShader
	var lastErr error
	if known {
		compiled, lastErr = v.compiled, v.lastErr
	}
	ss.mutex.RUnlock()

	if compiled != nil {
		return compiled, nil
	}
	if known {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrShaderNotReady, lastErr)
		}
		return nil, ErrShaderNotReady
	}

	if _, err := ss.compileVariant(e, variant, defines, ss.Config.ForceRecompile); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrShaderNotReady, err)
	}
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()
	return e.variants[variant].compiled, nil
}

// Ready reports whether the default variant of handle has bytecode.
func (ss *ShaderSystem) Ready(handle metadata.ShaderHandle) bool {
	e, err := ss.entry(handle)
	if err != nil {
		return false
	}
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()
	v, ok := e.variants[metadata.NewShaderVariant(metadata.DefaultShaderEntry, nil)]
	return ok && v.compiled != nil
}

func (ss *ShaderSystem) Stats(handle metadata.ShaderHandle) (metadata.ShaderStats, bool) {
	e, err := ss.entry(handle)
	if err != nil {
		return metadata.ShaderStats{}, false
	}
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()
	s := e.stats
	s.Generation = e.generation
	return s, true
}

func (ss *ShaderSystem) Key(handle metadata.ShaderHandle) (metadata.ShaderKey, bool) {
	e, err := ss.entry(handle)
	if err != nil {
		return metadata.ShaderKey{}, false
	}
	return e.key, true
}

func (ss *ShaderSystem) Stage(handle metadata.ShaderHandle) (metadata.ShaderStage, bool) {
	e, err := ss.entry(handle)
	if err != nil {
		return 0, false
	}
	return e.stage, true
}

/**
 * @brief Recompiles every known variant of every handle built from the
 * source at path and publishes the results. Variants that fail keep their
 * last good bytecode. Listeners of EVENT_CODE_SHADER_RELOADED are notified
 * once per handle that published new bytecode.
 */
func (ss *ShaderSystem) Reload(path string) error {
	src := ss.resolve(filepath.ToSlash(filepath.Clean(path)))

	ss.mutex.RLock()
	handles := append([]metadata.ShaderHandle(nil), ss.bySource[src]...)
	ss.mutex.RUnlock()
	if len(handles) == 0 {
		return fmt.Errorf("no shader is loaded from %s", path)
	}

	var errs []error
	for _, h := range handles {
		e, err := ss.entry(h)
		if err != nil {
			continue
		}

		ss.mutex.RLock()
		variants := make([]*shaderVariant, 0, len(e.variants))
		for _, v := range e.variants {
			variants = append(variants, v)
		}
		ss.mutex.RUnlock()

		published := false
		for _, v := range variants {
			// The watcher saw the file change, so the disk cache is stale
			// even when timestamps collide.
			ok, err := ss.compileVariant(e, v.variant, v.defines, true)
			if err != nil {
				core.LogError("reload of %s %s failed, keeping last good bytecode: %s", e.key, v.variant, err)
				errs = append(errs, err)
			}
			published = published || ok
		}
		if published {
			ss.notify(e)
		}
	}
	return errors.Join(errs...)
}

func (ss *ShaderSystem) onSourceChanged(path string) {
	if ss.ctx.Err() != nil {
		return
	}
	if ss.jobSystem == nil {
		_ = ss.Reload(path)
		return
	}
	err := ss.jobSystem.Submit(metadata.JobTask{
		Name: "shader reload " + path,
		OnStart: func(params interface{}) (interface{}, error) {
			return nil, ss.Reload(params.(string))
		},
		InputParams: path,
	})
	if err != nil {
		core.LogWarn("could not schedule reload of %s: %s", path, err)
	}
}

func (ss *ShaderSystem) notify(e *shaderEntry) {
	ss.mutex.RLock()
	generation := e.generation
	ss.mutex.RUnlock()

	core.LogInfo("shader %s reloaded (generation %d)", e.key, generation)
	if ss.events == nil {
		return
	}
	ctx := core.EventContext{}
	ctx.U64[0] = uint64(e.handle)
	ctx.U64[1] = generation
	ctx.C[0] = e.key.Path
	ss.events.Fire(core.EVENT_CODE_SHADER_RELOADED, ss, ctx)
}

// compileVariant produces bytecode for a variant from the disk cache, the
// content memo or the compiler, in that order, and publishes it. It reports
// whether new bytecode was published.
func (ss *ShaderSystem) compileVariant(e *shaderEntry, variant metadata.ShaderVariant, defines metadata.Defines, force bool) (bool, error) {
	e.compileMutex.Lock()
	defer e.compileMutex.Unlock()

	ss.mutex.Lock()
	v, ok := e.variants[variant]
	if !ok {
		v = &shaderVariant{variant: variant, defines: defines}
		e.variants[variant] = v
	}
	ss.mutex.Unlock()

	fi, err := os.Stat(e.sourcePath)
	if err != nil {
		return false, ss.fail(e, v, &core.ShaderCompileError{Path: e.key.Path, Profile: e.key.Profile, Entry: variant.Entry, Err: err})
	}
	modTime := fi.ModTime()

	var cachePath string
	if ss.cache != nil {
		cachePath = ss.cache.Path(e.key, variant)
		if !force && ss.cache.IsFresh(cachePath, modTime) {
			code, err := ss.cache.Load(cachePath)
			if err == nil {
				ss.mutex.Lock()
				e.stats.CacheHits++
				ss.mutex.Unlock()
				core.LogDebug("shader %s %s loaded from %s", e.key, variant, cachePath)
				ss.publish(e, v, code, modTime)
				return true, nil
			}
			core.LogWarn("ignoring unreadable cache file: %s", err)
		}
	}

	source, err := os.ReadFile(e.sourcePath)
	if err != nil {
		return false, ss.fail(e, v, &core.ShaderCompileError{Path: e.key.Path, Profile: e.key.Profile, Entry: variant.Entry, Err: err})
	}
	memoKey := uuid.NewSHA1(memoNamespace, []byte(e.key.String()+"|"+variant.String()+"|"+string(source)))

	raw, hit := ss.memo.Get(memoKey)
	if !hit {
		ss.mutex.Lock()
		e.stats.Compiles++
		ss.mutex.Unlock()

		raw, err = ss.compiler.Compile(ss.ctx, &compilers.Request{
			SourcePath:  e.sourcePath,
			Profile:     e.key.Profile,
			Entry:       variant.Entry,
			Defines:     defines,
			IncludeDirs: ss.includeDirs(),
			Debug:       ss.Config.DebugInfo,
		})
		if err != nil {
			return false, ss.fail(e, v, err)
		}
	}

	code, err := loaders.BytesToBytecode(raw)
	if err != nil {
		return false, ss.fail(e, v, &core.ShaderCompileError{Path: e.key.Path, Profile: e.key.Profile, Entry: variant.Entry, Err: err})
	}
	if !hit {
		ss.memo.Add(memoKey, raw)
	}
	if cachePath != "" {
		if err := ss.cache.Store(cachePath, raw); err != nil {
			core.LogWarn("could not persist %s: %s", cachePath, err)
		}
	}

	ss.mutex.Lock()
	unchanged := v.compiled != nil && slices.Equal(v.compiled.Code, code)
	if unchanged {
		v.lastErr = nil
	}
	ss.mutex.Unlock()
	if unchanged {
		core.LogDebug("shader %s %s produced identical bytecode", e.key, variant)
		return false, nil
	}

	if hit {
		core.LogDebug("shader %s %s unchanged since a previous compile", e.key, variant)
	} else {
		core.LogInfo("compiled shader %s %s", e.key, variant)
	}
	ss.publish(e, v, code, modTime)
	return true, nil
}

func (ss *ShaderSystem) publish(e *shaderEntry, v *shaderVariant, code []uint32, modTime time.Time) {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()
	e.generation++
	v.lastErr = nil
	v.compiled = &metadata.CompiledShader{
		Key:           e.key,
		Variant:       v.variant,
		Code:          code,
		SourceModTime: modTime,
		Generation:    e.generation,
	}
}

func (ss *ShaderSystem) fail(e *shaderEntry, v *shaderVariant, err error) error {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()
	e.stats.Failures++
	e.stats.LastError = err
	v.lastErr = err
	return err
}

func (ss *ShaderSystem) entry(handle metadata.ShaderHandle) (*shaderEntry, error) {
	owner, ok := ss.handles.Get(handle)
	if !ok {
		return nil, fmt.Errorf("unknown shader handle %s", handle)
	}
	return owner.(*shaderEntry), nil
}

func (ss *ShaderSystem) resolve(path string) string {
	p := filepath.FromSlash(path)
	if !filepath.IsAbs(p) && ss.Config.AssetRoot != "" {
		p = filepath.Join(ss.Config.AssetRoot, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func (ss *ShaderSystem) includeDirs() []string {
	if ss.Config.IncludeDir == "" {
		return nil
	}
	return []string{ss.Config.IncludeDir}
}
