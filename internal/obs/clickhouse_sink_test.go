package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"litqa/internal/config"
)

func TestNewClickHouseCostSinkReturnsNilWhenDisabled(t *testing.T) {
	sink, err := NewClickHouseCostSink(context.Background(), config.ClickHouseConfig{})
	require.NoError(t, err)
	require.Nil(t, sink)
}

func TestNilClickHouseCostSinkCloseIsSafe(t *testing.T) {
	var s *ClickHouseCostSink
	require.NoError(t, s.Close())
}
