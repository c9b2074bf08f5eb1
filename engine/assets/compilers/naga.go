package compilers

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gogpu/naga"
	"github.com/spaghettifunk/lumen/engine/core"
)

/**
 * @brief In-process WGSL to SPIR-V compiler.
 *
 * WGSL has no preprocessor, so defines become module scope constants
 * prepended to the source. An empty value becomes `true`.
 */
type Naga struct{}

func NewNaga() *Naga {
	return &Naga{}
}

func (n *Naga) Compile(ctx context.Context, req *Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := os.ReadFile(req.SourcePath)
	if err != nil {
		return nil, &core.ShaderCompileError{Path: req.SourcePath, Profile: req.Profile, Entry: req.Entry, Err: err}
	}

	code, err := naga.Compile(withDefines(string(src), req))
	if err != nil {
		return nil, &core.ShaderCompileError{
			Path:    req.SourcePath,
			Profile: req.Profile,
			Entry:   req.Entry,
			Output:  err.Error(),
			Err:     fmt.Errorf("naga: %w", err),
		}
	}
	return code, nil
}

func withDefines(src string, req *Request) string {
	if len(req.Defines) == 0 {
		return src
	}
	names := make([]string, 0, len(req.Defines))
	for n := range req.Defines {
		names = append(names, n)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, n := range names {
		v := req.Defines[n]
		if v == "" {
			v = "true"
		}
		fmt.Fprintf(&sb, "const %s = %s;\n", n, v)
	}
	sb.WriteString(src)
	return sb.String()
}
