package renderer

import (
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// VerifyFeatures fails with a *core.FeatureUnsupportedError naming the first
// missing requirement. There is no fallback path.
func VerifyFeatures(f metadata.DeviceFeatures) error {
	switch {
	case !f.NonUniformSampledImageIndexing:
		return &core.FeatureUnsupportedError{Feature: "shaderSampledImageArrayNonUniformIndexing"}
	case !f.NonUniformStorageBufferIndexing:
		return &core.FeatureUnsupportedError{Feature: "shaderStorageBufferArrayNonUniformIndexing"}
	case !f.PushConstants || f.MaxPushConstantsSize < metadata.MinPushConstantsSize:
		return &core.FeatureUnsupportedError{Feature: "pushConstants"}
	}
	return nil
}
