package hl7v2

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBatchAdaptor_SplitsOnMSH tests splitting with batch envelopes.
func TestBatchAdaptor_SplitsOnMSH(t *testing.T) {
	raw := "FHS|^~\\&\nBHS|^~\\&\n" +
		"MSH|^~\\&|A|||||||1\nPID|1\n" +
		"MSH|^~\\&|A|||||||2\nPID|2\nPV1|1\n" +
		"BTS|2\nFTS|1\n"

	a := NewBatchAdaptor(raw)
	defer a.Close()
	ctx := context.Background()

	first, ok, err := a.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "MSH|^~\\&|A|||||||1\rPID|1", first)

	second, ok, err := a.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "MSH|^~\\&|A|||||||2\rPID|2\rPV1|1", second)

	_, ok, err = a.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestBatchAdaptor_Empty tests an empty payload.
func TestBatchAdaptor_Empty(t *testing.T) {
	_, ok, err := NewBatchAdaptor("\n\n").Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
