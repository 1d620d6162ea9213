package caster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bsrlivetiming/pkg/model"
)

func TestJSONChannelCasterFrom(t *testing.T) {
	var c ChannelCaster[model.LiveUpdateMessage] = JSONChannelCaster[model.LiveUpdateMessage]{}

	msg, err := c.From(`{"type":"LIVE_UPDATE","data":{"sessionStatus":"Race","drivers":[{"name":"Caio"}]}}`)
	require.NoError(t, err)
	assert.Equal(t, model.MessageLiveUpdate, msg.MessageType)
	assert.Equal(t, "Caio", msg.Data.Drivers[0].Name)

	_, err = c.From("not json")
	assert.ErrorContains(t, err, "model.LiveUpdateMessage")
}

func TestJSONChannelCasterTo(t *testing.T) {
	s, err := JSONChannelCaster[model.SessionStarted]{}.To(model.SessionStarted{TrackName: "spa"})
	require.NoError(t, err)
	assert.Contains(t, s, `"spa"`)

	_, err = JSONChannelCaster[float64]{}.To(math.Inf(1))
	assert.ErrorContains(t, err, "float64")
}
