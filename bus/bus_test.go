package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan ListChanged) ListChanged {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return ListChanged{}
}

func assertNothing(t *testing.T, ch <-chan ListChanged) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func testBus(t *testing.T, b Bus) {
	ctx := context.Background()

	surveys, cancelSurveys := b.Subscribe("survey")
	defer cancelSurveys()
	all, cancelAll := b.Subscribe(AllKinds)
	defer cancelAll()
	users, cancelUsers := b.Subscribe("user")
	defer cancelUsers()

	if n, ok := b.(*Nats); ok {
		require.NoError(t, n.Flush())
	}

	ev := ListChanged{Kind: "survey", Op: OpCreate, ID: "s-1", Version: 1, At: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, b.Publish(ctx, ev))

	assert.Equal(t, ev, recv(t, surveys))
	assert.Equal(t, ev, recv(t, all))
	assertNothing(t, users)
}

func TestSoloBus(t *testing.T) {
	b := NewSolo()
	defer b.Close()
	testBus(t, b)
}

func TestSoloBusCancelClosesChannel(t *testing.T) {
	b := NewSolo()
	defer b.Close()

	ch, cancel := b.Subscribe("ncd")
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NoError(t, b.Publish(context.Background(), ListChanged{Kind: "ncd"}))
}

func TestSoloBusDropsForSlowSubscriber(t *testing.T) {
	b := NewSolo()
	defer b.Close()

	ch, cancel := b.Subscribe("user")
	defer cancel()

	for i := 0; i < subscriberBuffer*2; i++ {
		require.NoError(t, b.Publish(context.Background(), ListChanged{Kind: "user"}))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestNatsBus(t *testing.T) {
	srv, err := NewEmbeddedNats("127.0.0.1", -1, t.TempDir())
	require.NoError(t, err)
	defer srv.Shutdown()

	n, err := ConnectNats(srv.ClientURL(), true)
	require.NoError(t, err)
	defer n.Close()

	testBus(t, n)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "healthdesk.list.partner-mapping.changed", Subject("partner-mapping"))
	assert.Equal(t, "healthdesk.list.*.changed", Subject(AllKinds))
}
