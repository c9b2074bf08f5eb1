package compilers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spaghettifunk/lumen/engine/core"
)

const DefaultTargetEnv = "vulkan1.2"

/**
 * @brief Runs the DirectX shader compiler as an external process.
 */
type DXC struct {
	/** @brief Executable name or path. */
	Path      string
	TargetEnv string
	/** @brief Extra SPIR-V extensions enabled on top of descriptor indexing. */
	Extensions []string

	run func(ctx context.Context, name string, args []string) (string, error)
}

func NewDXC(path string) *DXC {
	if path == "" {
		path = "dxc"
	}
	return &DXC{
		Path:      path,
		TargetEnv: DefaultTargetEnv,
		run:       executeCmd,
	}
}

// Args builds the command line for req writing to out.
func (d *DXC) Args(req *Request, out string) []string {
	entry := req.Entry
	if entry == "" {
		entry = "main"
	}
	args := []string{
		"-T", req.Profile,
		"-E", entry,
		"-spirv",
		"-fspv-target-env=" + d.TargetEnv,
		"-fvk-use-scalar-layout",
		"-fspv-extension=SPV_EXT_descriptor_indexing",
	}
	for _, ext := range d.Extensions {
		args = append(args, "-fspv-extension="+ext)
	}
	for _, inc := range req.IncludeDirs {
		args = append(args, "-I", inc)
	}

	names := make([]string, 0, len(req.Defines))
	for n := range req.Defines {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if v := req.Defines[n]; v != "" {
			args = append(args, "-D", n+"="+v)
		} else {
			args = append(args, "-D", n)
		}
	}

	if req.Debug {
		args = append(args, "-Zi", "-Qembed_debug")
	} else {
		args = append(args, "-O3")
	}
	return append(args, "-Fo", out, req.SourcePath)
}

func (d *DXC) Compile(ctx context.Context, req *Request) ([]byte, error) {
	tmp, err := os.MkdirTemp("", "lumen-dxc-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	out := filepath.Join(tmp, "out.spv")
	output, err := d.run(ctx, d.Path, d.Args(req, out))
	if err != nil {
		return nil, &core.ShaderCompileError{
			Path:    req.SourcePath,
			Profile: req.Profile,
			Entry:   req.Entry,
			Output:  strings.TrimSpace(output),
			Err:     err,
		}
	}
	if output != "" {
		core.LogDebug("dxc %s: %s", req.SourcePath, strings.TrimSpace(output))
	}

	code, err := os.ReadFile(out)
	if err != nil {
		return nil, &core.ShaderCompileError{
			Path:    req.SourcePath,
			Profile: req.Profile,
			Entry:   req.Entry,
			Output:  "compiler produced no output",
			Err:     err,
		}
	}
	return code, nil
}

func executeCmd(ctx context.Context, command string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	var b bytes.Buffer
	cmd.Stdout = &b
	cmd.Stderr = &b
	if err := cmd.Run(); err != nil {
		return b.String(), fmt.Errorf("error executing %s: %w", command, err)
	}
	return b.String(), nil
}
