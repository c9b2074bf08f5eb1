package loaders

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryLoaderPath(t *testing.T) {
	bl := NewBinaryLoader("spv/bin")
	key := metadata.ShaderKey{Path: "shaders/path_tracer_entry.hlsl", Profile: "cs_6_5"}

	assert.Equal(t, filepath.Join("spv", "bin", "path_tracer_entry_cs_6_5.spv"),
		bl.Path(key, metadata.NewShaderVariant("main", nil)))

	initVariant := metadata.NewShaderVariant("main", metadata.Defines{"INIT": "1"})
	p := bl.Path(key, initVariant)
	assert.NotEqual(t, bl.Path(key, metadata.NewShaderVariant("main", nil)), p)
	assert.Equal(t, p, bl.Path(key, metadata.NewShaderVariant("main", metadata.Defines{"INIT": "1"})))
	assert.Len(t, VariantTag(initVariant), 8)
}

func TestBinaryLoaderStoreLoadFresh(t *testing.T) {
	dir := t.TempDir()
	bl := NewBinaryLoader(filepath.Join(dir, "spv", "bin"))
	path := filepath.Join(bl.Dir(), "a_cs_6_5.spv")

	src := filepath.Join(dir, "a.hlsl")
	require.NoError(t, os.WriteFile(src, []byte("source"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(src, past, past))

	assert.False(t, bl.IsFresh(path, past))

	code := []uint32{SpirvMagic, 0x00010500, 7, 42}
	require.NoError(t, bl.Store(path, BytecodeToBytes(code)))
	assert.True(t, bl.IsFresh(path, past))

	got, err := bl.Load(path)
	require.NoError(t, err)
	assert.Equal(t, code, got)

	// source newer than the cache
	assert.False(t, bl.IsFresh(path, time.Now().Add(time.Hour)))
}

func TestBytesToBytecodeRejectsGarbage(t *testing.T) {
	_, err := BytesToBytecode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidBytecode)

	_, err = BytesToBytecode([]byte{0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidBytecode)

	_, err = BytesToBytecode(nil)
	assert.ErrorIs(t, err, ErrInvalidBytecode)
}
