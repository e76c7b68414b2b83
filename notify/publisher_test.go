package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/landledger/registry"
)

type published struct {
	subject string
	data    []byte
}

// recordingClient captures publishes instead of sending them.
type recordingClient struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (c *recordingClient) Publish(_ context.Context, subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{subject: subject, data: data})
	return nil
}

func TestNewPublisher_RequiresClient(t *testing.T) {
	_, err := NewPublisher(nil)
	require.Error(t, err)
}

func TestPublisher_Subject(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		kind    registry.EventKind
		want    string
		wantErr bool
	}{
		{"registered default prefix", "", registry.EventRegistered, "landledger.events.record.registered", false},
		{"confirmed default prefix", "", registry.EventOwnerConfirmed, "landledger.events.owner.confirmed", false},
		{"custom prefix trimmed", ".acme.land.", registry.EventRegistered, "acme.land.events.record.registered", false},
		{"unknown kind", "", registry.EventKind("deleted"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPublisher(&recordingClient{}, WithSubjectPrefix(tt.prefix))
			require.NoError(t, err)

			got, err := p.Subject(tt.kind)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPublisher_EmitFromRegistry(t *testing.T) {
	ctx := context.Background()
	client := &recordingClient{}
	p, err := NewPublisher(client)
	require.NoError(t, err)

	reg := registry.New(registry.NewMemoryStore(), registry.WithEventSink(p))
	require.NoError(t, reg.Register(ctx, "alice", registry.RecordKey("plot-42"), []byte("Alice")))
	_, err = reg.Verify(ctx, "carol", registry.RecordKey("plot-42"))
	require.NoError(t, err)

	require.Len(t, client.msgs, 2)
	assert.Equal(t, "landledger.events.record.registered", client.msgs[0].subject)
	assert.Equal(t, "landledger.events.owner.confirmed", client.msgs[1].subject)

	var registered registry.Event
	require.NoError(t, json.Unmarshal(client.msgs[0].data, &registered))
	assert.Equal(t, registry.EventRegistered, registered.Kind)
	require.NotNil(t, registered.Registered)
	assert.Equal(t, registry.Identity("alice"), registered.Registered.Caller)
	assert.Equal(t, registry.RecordKey("plot-42"), registered.Registered.Key)

	var confirmed registry.Event
	require.NoError(t, json.Unmarshal(client.msgs[1].data, &confirmed))
	require.NotNil(t, confirmed.OwnerConfirmed)
	assert.Equal(t, []byte("Alice"), confirmed.OwnerConfirmed.Owner)
}

func TestPublisher_PublishErrorSurfaces(t *testing.T) {
	boom := errors.New("no responders")
	p, err := NewPublisher(&recordingClient{err: boom})
	require.NoError(t, err)

	reg := registry.New(registry.NewMemoryStore(), registry.WithEventSink(p))
	err = reg.Register(context.Background(), "alice", registry.RecordKey("plot-1"), []byte("Alice"))
	require.Error(t, err)
	assert.True(t, registry.IsNotifyError(err))
	assert.ErrorIs(t, err, boom)
}

func TestConnClient_DeliversToSubscriber(t *testing.T) {
	ns, err := server.NewServer(&server.Options{Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "NATS server not ready")
	defer ns.Shutdown()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("landledger.events.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	p, err := NewPublisher(ConnClient{Conn: nc})
	require.NoError(t, err)

	reg := registry.New(registry.NewMemoryStore(), registry.WithEventSink(p))
	require.NoError(t, reg.Register(context.Background(), "alice", registry.RecordKey("plot-42"), []byte("Alice")))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "landledger.events.record.registered", msg.Subject)

	var event registry.Event
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, registry.EventRegistered, event.Kind)
}

func TestConnClient_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ConnClient{}.Publish(ctx, "landledger.events.record.registered", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
