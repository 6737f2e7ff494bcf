package assert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThat(t *testing.T) {
	assert.NotPanics(t, func() { That(true, "never") })

	if Enabled {
		assert.PanicsWithValue(t, "subjectlink: contract violated: want 3 got 2", func() {
			That(false, "want %d got %d", 3, 2)
		})
	} else {
		assert.NotPanics(t, func() { That(false, "ignored") })
	}
}
