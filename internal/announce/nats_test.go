package announce

import (
	"context"
	"fmt"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNewNATSAnnouncer_RequiresConnection(t *testing.T) {
	_, err := NewNATSAnnouncer(nil, "integrations", nil)
	assert.Error(t, err)
}

func TestNATSAnnouncer_Send(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	announcer, err := NewNATSAnnouncer(nc, "integrations", nil)
	require.NoError(t, err)

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("integrations.doc1", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	err = announcer.Send(context.Background(), "doc1", []byte(`{"type":"RawOperation"}`))
	require.NoError(t, err)

	select {
	case msg := <-ch:
		assert.Equal(t, "integrations.doc1", msg.Subject)
		assert.JSONEq(t, `{"type":"RawOperation"}`, string(msg.Data))
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for announcement")
	}
}

func TestNATSAnnouncer_Send_PreservesPerKeyOrder(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	announcer, err := NewNATSAnnouncer(nc, "integrations", nil)
	require.NoError(t, err)

	ch := make(chan *nats.Msg, 10)
	sub, err := nc.ChanSubscribe("integrations.doc1", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		err := announcer.Send(context.Background(), "doc1", []byte(fmt.Sprintf("event-%d", i)))
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		select {
		case msg := <-ch:
			assert.Equal(t, fmt.Sprintf("event-%d", i), string(msg.Data))
		case <-time.After(1 * time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestNATSAnnouncer_DefaultPrefix(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	announcer, err := NewNATSAnnouncer(nc, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "integrations", announcer.prefix)
}

func TestNATSAnnouncer_WithFlushTimeout(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	announcer, err := NewNATSAnnouncer(nc, "integrations", nil, WithFlushTimeout(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, announcer.flushTimeout)

	// Non-positive values keep the default.
	announcer, err = NewNATSAnnouncer(nc, "integrations", nil, WithFlushTimeout(0))
	require.NoError(t, err)
	assert.Equal(t, defaultFlushTimeout, announcer.flushTimeout)
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "doc-1", subjectToken("doc-1"))
	assert.Equal(t, "a_b_c", subjectToken("a.b c"))
	assert.Equal(t, "x_y_", subjectToken("x*y>"))
}
