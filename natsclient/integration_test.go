//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_SubscribeAndPublish(t *testing.T) {
	tc := NewTestClient(t)
	assert.True(t, tc.Client.IsHealthy())

	got := make(chan Msg, 1)
	require.NoError(t, tc.Client.Subscribe("sensors.>", func(m Msg) { got <- m }))
	require.NoError(t, tc.Client.Conn().Flush())

	require.NoError(t, tc.Client.Publish("sensors.kitchen.temp", []byte("23.5")))

	select {
	case m := <-got:
		assert.Equal(t, "sensors.kitchen.temp", m.Subject)
		assert.Equal(t, "23.5", string(m.Data))
		assert.False(t, m.Replayed)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestIntegration_ConsumeLastPerSubject(t *testing.T) {
	ctx := context.Background()
	tc := NewTestClient(t, WithJetStream())

	js, err := tc.Client.JetStream()
	require.NoError(t, err)
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "SENSORS",
		Subjects: []string{"sensors.>"},
	})
	require.NoError(t, err)

	for _, p := range []struct{ subject, data string }{
		{"sensors.kitchen.temp", "20"},
		{"sensors.kitchen.temp", "21"},
		{"sensors.hall.temp", "18"},
	} {
		_, err := js.Publish(ctx, p.subject, []byte(p.data))
		require.NoError(t, err)
	}

	got := make(chan Msg, 10)
	require.NoError(t, tc.Client.ConsumeLastPerSubject(ctx, "SENSORS", []string{"sensors.>"},
		func(m Msg) { got <- m }))

	replayed := map[string]string{}
	for len(replayed) < 2 {
		select {
		case m := <-got:
			assert.True(t, m.Replayed)
			replayed[m.Subject] = string(m.Data)
		case <-time.After(5 * time.Second):
			t.Fatalf("replay incomplete: %v", replayed)
		}
	}
	assert.Equal(t, map[string]string{"sensors.kitchen.temp": "21", "sensors.hall.temp": "18"}, replayed)

	_, err = js.Publish(ctx, "sensors.kitchen.temp", []byte("22"))
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.False(t, m.Replayed)
		assert.Equal(t, "22", string(m.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("no live message received")
	}
}
