package dep

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

type thing struct{}

func TestRequiredPassesThrough(t *testing.T) {
	th := &thing{}
	assert.Same(t, th, Required(th))
	assert.Equal(t, 3, Required(3))
}

func TestRequiredPanicsOnMissing(t *testing.T) {
	var p *thing
	assert.Panics(t, func() { Required(p) })

	var r io.Reader
	assert.Panics(t, func() { Required(r) })

	var m map[string]int
	assert.Panics(t, func() { Required(m) })
}
