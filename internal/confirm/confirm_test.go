package confirm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInteractiveSimpleAcceptsY(t *testing.T) {
	var out bytes.Buffer
	c := NewInteractiveIO(strings.NewReader("y\n"), &out)
	assert.True(t, c.Simple("proceed?"))
}

func TestInteractiveSimpleDeclinesOnEmpty(t *testing.T) {
	var out bytes.Buffer
	c := NewInteractiveIO(strings.NewReader("\n"), &out)
	assert.False(t, c.Simple("proceed?"))
}

func TestInteractiveDoubleRequiresBothSteps(t *testing.T) {
	var out bytes.Buffer
	c := NewInteractiveIO(strings.NewReader("y\nyes\n"), &out)
	assert.True(t, c.Double("full cleanup", []string{"drops all rows"}))
}

func TestInteractiveDoubleFailsIfSecondStepWrong(t *testing.T) {
	var out bytes.Buffer
	c := NewInteractiveIO(strings.NewReader("y\nnah\n"), &out)
	assert.False(t, c.Double("full cleanup", []string{"drops all rows"}))
}

func TestInteractiveDoubleShortCircuitsOnFirstDecline(t *testing.T) {
	var out bytes.Buffer
	c := NewInteractiveIO(strings.NewReader("n\n"), &out)
	assert.False(t, c.Double("full cleanup", nil))
}

func TestNonInteractiveAlwaysDeclines(t *testing.T) {
	c := NewNonInteractive()
	assert.False(t, c.Simple("proceed?"))
	assert.False(t, c.Double("full cleanup", []string{"x"}))
}
