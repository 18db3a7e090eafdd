package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithComponentReturnsUsableLogger(t *testing.T) {
	l := WithComponent("test")
	assert.NotPanics(t, func() {
		l.Debug().Str(FieldSessionID, "s1").Msg("component logger works")
	})
}
