package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown := Setup(context.Background(), "battery-swap", "", nil)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}
