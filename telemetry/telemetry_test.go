package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	sent [][]interface{}
	err  error
}

func (f *fakePublisher) SendMessage(parts ...interface{}) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.sent = append(f.sent, parts)
	return 1, nil
}

func TestPumpPublishesFiveFrames(t *testing.T) {
	ch := make(chan Event, 1)
	pub := &fakePublisher{}
	ch <- Duration(1.234)
	close(ch)

	require.NoError(t, Pump(context.Background(), ch, pub, "vaultaire-reader/42", "host-a", false, nil))

	require.Len(t, pub.sent, 1)
	frames := pub.sent[0]
	require.Len(t, frames, 5)
	assert.Equal(t, "duration", frames[0])
	assert.Equal(t, "seconds", frames[2])
	assert.Equal(t, "vaultaire-reader/42", frames[3])
	assert.Equal(t, "host-a", frames[4])
}

func TestIdentifierFormat(t *testing.T) {
	id := Identifier("vaultaire-reader")
	assert.Contains(t, id, "vaultaire-reader/")
}

func TestErrorEvent(t *testing.T) {
	ev := Error("boom")
	assert.Equal(t, "error", ev.Key)
	assert.Equal(t, "boom", ev.Value)
	assert.Equal(t, "", ev.Unit)
}
