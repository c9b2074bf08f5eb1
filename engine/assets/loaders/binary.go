package loaders

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// SPIR-V magic number, first word of every module.
const SpirvMagic uint32 = 0x07230203

const SpirvExtension = ".spv"

var ErrInvalidBytecode = errors.New("invalid SPIR-V bytecode")

// variantNamespace seeds the name-based UUIDs used to tell variants apart on disk.
var variantNamespace = uuid.MustParse("6f1c3a52-8d0e-4d4f-9a57-2f0b8c1e7d10")

/**
 * @brief On-disk cache of compiled bytecode, one file per (key, variant).
 */
type BinaryLoader struct {
	dir string
}

func NewBinaryLoader(dir string) *BinaryLoader {
	return &BinaryLoader{dir: dir}
}

func (bl *BinaryLoader) Dir() string {
	return bl.dir
}

// Path returns <dir>/<basename>_<profile>.spv for the default variant and
// appends a short stable hash of the variant otherwise.
func (bl *BinaryLoader) Path(key metadata.ShaderKey, variant metadata.ShaderVariant) string {
	base := strings.TrimSuffix(filepath.Base(key.Path), filepath.Ext(key.Path))
	name := fmt.Sprintf("%s_%s", base, key.Profile)
	if !variant.IsDefault() {
		name += "_" + VariantTag(variant)
	}
	return filepath.Join(bl.dir, name+SpirvExtension)
}

// VariantTag is a short, stable tag derived from the variant.
func VariantTag(variant metadata.ShaderVariant) string {
	id := uuid.NewSHA1(variantNamespace, []byte(variant.String()))
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}

// IsFresh reports whether the cached file exists and is at least as new as
// the source.
func (bl *BinaryLoader) IsFresh(cachePath string, sourceModTime time.Time) bool {
	fi, err := os.Stat(cachePath)
	if err != nil || fi.IsDir() || fi.Size() == 0 {
		return false
	}
	return !fi.ModTime().Before(sourceModTime)
}

func (bl *BinaryLoader) Load(path string) ([]uint32, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	code, err := BytesToBytecode(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}

// Store writes the bytecode next to a temporary file and renames it in place
// so a concurrent reader never sees a partial file.
func (bl *BinaryLoader) Store(path string, code []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(code); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// BytesToBytecode converts little-endian bytes to SPIR-V words.
func BytesToBytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: size %d is not a multiple of 4", ErrInvalidBytecode, len(b))
	}
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteCode[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if byteCode[0] != SpirvMagic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrInvalidBytecode, byteCode[0])
	}
	return byteCode, nil
}

func BytecodeToBytes(code []uint32) []byte {
	b := make([]byte, len(code)*4)
	for i, w := range code {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}
