//go:build mage

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/spaghettifunk/lumen/engine/assets/compilers"
	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type Build mg.Namespace

// Compiles every path tracer variant into the shader cache.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the lumen binary into bin/.
func (Build) Binary() error {
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "lumen"), "."), withStream())
	return err
}

func buildShaders() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}
	dxc := compilers.NewDXC(cfg.Shaders.Compiler)
	cache := loaders.NewBinaryLoader(cfg.Shaders.CacheDir)
	key := metadata.ShaderKey{Path: cfg.Shaders.Entry, Profile: cfg.Shaders.Profile}

	variants := []metadata.Defines{nil, {"INIT": "1"}}
	for _, defines := range variants {
		variant := metadata.NewShaderVariant(metadata.DefaultShaderEntry, defines)
		code, err := dxc.Compile(context.Background(), &compilers.Request{
			SourcePath:  filepath.Join(cfg.Shaders.AssetRoot, cfg.Shaders.Entry),
			Profile:     cfg.Shaders.Profile,
			Entry:       variant.Entry,
			Defines:     defines,
			IncludeDirs: []string{cfg.Shaders.IncludeDir},
			Debug:       cfg.Shaders.DebugInfo,
		})
		if err != nil {
			return err
		}
		if _, err := loaders.BytesToBytecode(code); err != nil {
			return err
		}
		out := cache.Path(key, variant)
		if err := cache.Store(out, code); err != nil {
			return err
		}
		fmt.Printf("%s %s -> %s\n", key, variant, out)
	}
	return nil
}
