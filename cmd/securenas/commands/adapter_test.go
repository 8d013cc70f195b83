package commands

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thumbsup-team/securenas/pkg/controlplane/api/handlers"
	"github.com/thumbsup-team/securenas/pkg/device"
)

func TestMapActivateErr(t *testing.T) {
	assert.NoError(t, mapActivateErr(nil))

	wrapped := fmt.Errorf("activate: %w", device.ErrShuttingDown)
	assert.ErrorIs(t, mapActivateErr(wrapped), handlers.ErrNotActivatable)

	other := errors.New("listener bind failed")
	assert.Equal(t, other, mapActivateErr(other))
}
