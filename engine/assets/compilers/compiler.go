package compilers

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

/**
 * @brief A single compilation: one source, one profile, one entry point.
 */
type Request struct {
	SourcePath  string
	Profile     string
	Entry       string
	Defines     metadata.Defines
	IncludeDirs []string
	/** @brief Embed debug info instead of optimizing. */
	Debug bool
}

// Compiler turns shader source into SPIR-V bytes. Failures are reported as
// *core.ShaderCompileError carrying the compiler output.
type Compiler interface {
	Compile(ctx context.Context, req *Request) ([]byte, error)
}

// CompilerFunc adapts a plain function to the Compiler interface.
type CompilerFunc func(ctx context.Context, req *Request) ([]byte, error)

func (f CompilerFunc) Compile(ctx context.Context, req *Request) ([]byte, error) {
	return f(ctx, req)
}

/**
 * @brief Picks a compiler by the source file extension.
 */
type Router struct {
	byExt    map[string]Compiler
	fallback Compiler
}

func NewRouter(fallback Compiler) *Router {
	return &Router{
		byExt:    make(map[string]Compiler),
		fallback: fallback,
	}
}

// Register routes sources with the given extension (".wgsl") to c.
func (r *Router) Register(ext string, c Compiler) *Router {
	r.byExt[strings.ToLower(ext)] = c
	return r
}

func (r *Router) Compile(ctx context.Context, req *Request) ([]byte, error) {
	if c, ok := r.byExt[strings.ToLower(filepath.Ext(req.SourcePath))]; ok {
		return c.Compile(ctx, req)
	}
	return r.fallback.Compile(ctx, req)
}
