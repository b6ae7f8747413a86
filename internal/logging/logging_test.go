package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrDefaultReturnsStdLoggerForNil(t *testing.T) {
	l := OrDefault(nil)
	assert.IsType(t, &stdLogger{}, l)
}

func TestOrDefaultPassesThroughNonNil(t *testing.T) {
	custom := NewNoopLogger()
	assert.Equal(t, custom, OrDefault(custom))
}

func TestBindAccumulatesFields(t *testing.T) {
	base := NewStdLogger().Bind("store", "dcs")
	child := base.Bind("key", "ra")

	impl, ok := child.(*stdLogger)
	assert.True(t, ok)
	assert.Equal(t, []any{"store", "dcs", "key", "ra"}, impl.fields)
}

func TestNoopLoggerDoesNotPanic(t *testing.T) {
	l := NewNoopLogger()
	l.Debug("msg", "k", "v")
	l.Bind("k", "v").Info("msg")
}
