package core

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogErrorKeepsPercentSigns(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	t.Cleanup(func() { SetLogOutput(nil) })

	err := errors.New(`shaders/100%_%d.hlsl: bad token`)
	LogError("%s", err)

	assert.Contains(t, buf.String(), `shaders/100%_%d.hlsl: bad token`)
	assert.NotContains(t, buf.String(), "%!")
}
