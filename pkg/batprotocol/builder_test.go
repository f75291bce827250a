package batprotocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batsched/batsched/pkg/intervalset"
)

func TestMessageBuilder(t *testing.T) {
	b := NewMessageBuilder()
	b.Clear(10)
	b.AddRejectJob("w0!2")
	b.AddExecuteJob("w0!1", intervalset.MustFromString("0-1"), StrategySpreadOverHostsFirst)
	b.AddStopProbe("hosts-vec")
	require.NoError(t, b.SetCurrentTime(15))
	b.AddStopProbe("hosts-agg")
	assert.Equal(t, 4, b.Len())

	msg, err := b.Finish(10)
	require.NoError(t, err)
	assert.Equal(t, 15.0, msg.Now)
	timestamps := make([]float64, len(msg.Events))
	for i, event := range msg.Events {
		timestamps[i] = event.Timestamp
	}
	assert.Equal(t, []float64{10, 10, 10, 15}, timestamps)
	assert.Equal(t, EventTypeExecuteJob, msg.Events[1].Type())
	assert.NoError(t, CheckOrdering(msg))

	// The builder is ready for the next call.
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 15.0, b.CurrentTime())

	_, err = NewCodec(FormatJSON).EncodeDecisions(msg)
	assert.NoError(t, err)
}

func TestMessageBuilder_TimeNeverGoesBack(t *testing.T) {
	b := NewMessageBuilder()
	b.Clear(10)
	assert.Error(t, b.SetCurrentTime(9))
	assert.Equal(t, 10.0, b.CurrentTime())

	_, err := b.Finish(9)
	assert.Error(t, err)

	msg, err := b.Finish(12)
	require.NoError(t, err)
	assert.Equal(t, 12.0, msg.Now)
	assert.NotNil(t, msg.Events)
	assert.Empty(t, msg.Events)
}
