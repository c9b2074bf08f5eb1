package metadata

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spaghettifunk/lumen/engine/core"
)

/** @brief Stable identifier of a (path, profile) pair in the shader registry. */
type ShaderHandle = core.Handle

/** @brief Shader stages available in the system. */
type ShaderStage uint32

const (
	ShaderStageVertex        ShaderStage = 0x00000001
	ShaderStageFragment      ShaderStage = 0x00000004
	ShaderStageCompute       ShaderStage = 0x00000008
	ShaderStageMesh          ShaderStage = 0x00000010
	ShaderStageAmplification ShaderStage = 0x00000020
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageFragment:
		return "fragment"
	case ShaderStageCompute:
		return "compute"
	case ShaderStageMesh:
		return "mesh"
	case ShaderStageAmplification:
		return "amplification"
	}
	return fmt.Sprintf("stage(%d)", uint32(s))
}

// ShaderStageFromProfile maps an HLSL target profile (cs_6_5, ms_6_5, ...) to
// its stage. WGSL sources use the "wgsl" profile and are always compute here.
func ShaderStageFromProfile(profile string) (ShaderStage, error) {
	prefix, _, _ := strings.Cut(profile, "_")
	switch prefix {
	case "cs", "wgsl":
		return ShaderStageCompute, nil
	case "ms":
		return ShaderStageMesh, nil
	case "as":
		return ShaderStageAmplification, nil
	case "ps":
		return ShaderStageFragment, nil
	case "vs":
		return ShaderStageVertex, nil
	}
	return 0, fmt.Errorf("unsupported shader profile `%s`", profile)
}

/** @brief Uniquely identifies a compilation output. */
type ShaderKey struct {
	Path    string
	Profile string
}

func (k ShaderKey) String() string {
	return k.Path + "@" + k.Profile
}

/** @brief Preprocessor defines passed to the compiler. */
type Defines map[string]string

// Canonical renders the defines sorted by name, so equal sets compare equal.
func (d Defines) Canonical() string {
	if len(d) == 0 {
		return ""
	}
	names := make([]string, 0, len(d))
	for n := range d {
		names = append(names, n)
	}
	sort.Strings(names)
	var sb strings.Builder
	for i, n := range names {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(n)
		if v := d[n]; v != "" {
			sb.WriteByte('=')
			sb.WriteString(v)
		}
	}
	return sb.String()
}

// ParseDefines is the inverse of Canonical.
func ParseDefines(canonical string) Defines {
	if canonical == "" {
		return nil
	}
	d := Defines{}
	for _, part := range strings.Split(canonical, ";") {
		n, v, _ := strings.Cut(part, "=")
		d[n] = v
	}
	return d
}

/**
 * @brief An entry point compiled with a set of defines. Comparable, so it can
 * key maps.
 */
type ShaderVariant struct {
	Entry   string
	Defines string
}

const DefaultShaderEntry = "main"

func NewShaderVariant(entry string, defines Defines) ShaderVariant {
	if entry == "" {
		entry = DefaultShaderEntry
	}
	return ShaderVariant{Entry: entry, Defines: defines.Canonical()}
}

func (v ShaderVariant) IsDefault() bool {
	return v.Entry == DefaultShaderEntry && v.Defines == ""
}

func (v ShaderVariant) String() string {
	if v.Defines == "" {
		return v.Entry
	}
	return v.Entry + "[" + v.Defines + "]"
}

/**
 * @brief Compiled bytecode plus the source modification time it was built from.
 */
type CompiledShader struct {
	Key     ShaderKey
	Variant ShaderVariant
	/** @brief SPIR-V words. */
	Code []uint32
	/** @brief Modification time of the source at compile time. */
	SourceModTime time.Time
	/** @brief Incremented every time the handle publishes new bytecode. */
	Generation uint64
}

/** @brief Counters for a single shader handle. */
type ShaderStats struct {
	Compiles   uint64
	CacheHits  uint64
	Failures   uint64
	Generation uint64
	LastError  error
}
