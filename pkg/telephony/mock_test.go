package telephony

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProviderDeterministicIDs(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()

	id1, err := p.InitiateCall(ctx, InitiateRequest{CallID: "call-a", To: "+15551234567"})
	require.NoError(t, err)
	id2, err := p.InitiateCall(ctx, InitiateRequest{CallID: "call-b", To: "+15551234567"})
	require.NoError(t, err)

	assert.Equal(t, "mock-call-a", id1)
	assert.Equal(t, "mock-call-b", id2)
}

func TestMockProviderRecordsOperations(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()

	_, err := p.InitiateCall(ctx, InitiateRequest{CallID: "c1"})
	require.NoError(t, err)
	require.NoError(t, p.PlayTTS(ctx, "c1", "mock-c1", "hello"))
	require.NoError(t, p.StartListening(ctx, "c1", "mock-c1"))
	require.NoError(t, p.StopListening(ctx, "c1", "mock-c1"))
	require.NoError(t, p.HangupCall(ctx, "c1", "mock-c1", "bot"))

	assert.Len(t, p.Calls(), 5)
	plays := p.CallsOf("play")
	require.Len(t, plays, 1)
	assert.Equal(t, "hello", plays[0].Text)
	hangups := p.CallsOf("hangup")
	require.Len(t, hangups, 1)
	assert.Equal(t, "bot", hangups[0].Reason)
}

func TestMockProviderInjectedFailure(t *testing.T) {
	p := NewMockProvider()
	p.InitiateErr = errors.New("no trunk")

	_, err := p.InitiateCall(context.Background(), InitiateRequest{CallID: "c1"})
	assert.Error(t, err)
	assert.Empty(t, p.Calls())
}
