package hub

import (
	"encoding/json"
	"testing"

	"github.com/erilali/relay/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectsEscapeUserIDs(t *testing.T) {
	assert.Equal(t, "presence.online.u1", onlineSubject("u1"))
	assert.Equal(t, "presence.offline.a_b_c", offlineSubject("a.b*c"))
	assert.Equal(t, "presence.online.jane_doe_", onlineSubject("jane doe>"))
}

func TestNATSPublisherQueuesAndDropsWhenFull(t *testing.T) {
	p := NewNATSPublisher(nil, nil)
	for i := 0; i < publishQueueSize+10; i++ {
		p.Publish(subjectRelayMissed, message.Event{Event: "recipient_offline", UserID: "u1"})
	}
	assert.Len(t, p.queue, publishQueueSize)

	evt := <-p.queue
	assert.Equal(t, subjectRelayMissed, evt.subject)
	var decoded message.Event
	require.NoError(t, json.Unmarshal(evt.data, &decoded))
	assert.Equal(t, "u1", decoded.UserID)
}
