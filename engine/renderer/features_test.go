package renderer

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/stretchr/testify/assert"
)

func TestVerifyFeatures(t *testing.T) {
	assert.NoError(t, VerifyFeatures(headless.DefaultFeatures()))

	f := headless.DefaultFeatures()
	f.NonUniformSampledImageIndexing = false
	err := VerifyFeatures(f)
	var unsupported *core.FeatureUnsupportedError
	if assert.True(t, errors.As(err, &unsupported)) {
		assert.Equal(t, "shaderSampledImageArrayNonUniformIndexing", unsupported.Feature)
	}
	assert.True(t, core.IsFatal(err))

	f = headless.DefaultFeatures()
	f.NonUniformStorageBufferIndexing = false
	assert.ErrorContains(t, VerifyFeatures(f), "shaderStorageBufferArrayNonUniformIndexing")

	f = headless.DefaultFeatures()
	f.MaxPushConstantsSize = 64
	assert.ErrorIs(t, VerifyFeatures(f), core.ErrFeatureUnsupported)
}
