package publisher_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skynet2/catalogsync/codec"
	"github.com/skynet2/catalogsync/common"
	"github.com/skynet2/catalogsync/publisher"
)

func TestNatsPublisher(t *testing.T) {
	con, err := nats.Connect(getNatsUrl(t))
	require.NoError(t, err)
	defer con.Close()

	subject := uuid.NewString()
	js, err := con.JetStream()
	require.NoError(t, err)

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     subject,
		Subjects: []string{subject},
	}, nats.Context(context.TODO()))
	require.NoError(t, err)

	event := common.BookDeleted{BookID: subject}
	data, err := codec.Encode(event)
	require.NoError(t, err)

	firstInterceptorCalled := false
	secondInterceptorCalled := false

	pub := publisher.NewNatsPublisher(con, subject,
		func(next publisher.UnaryPublisherFunc) publisher.UnaryPublisherFunc {
			return func(ctx context.Context, event publisher.AnyEvent) {
				assert.False(t, firstInterceptorCalled)
				assert.False(t, secondInterceptorCalled)
				firstInterceptorCalled = true
				assert.Equal(t, "value1", event.GetHeader("header1")[0])
				event.SetHeader("inter1_header", "inter1_value")
				assert.Equal(t, data, event.GetBody())
				next(ctx, event)
			}
		}, func(next publisher.UnaryPublisherFunc) publisher.UnaryPublisherFunc {
			return func(ctx context.Context, event publisher.AnyEvent) {
				assert.True(t, firstInterceptorCalled)
				assert.False(t, secondInterceptorCalled)
				secondInterceptorCalled = true
				assert.Equal(t, subject, event.GetDestination())
				assert.Equal(t, "inter1_value", event.GetHeader("inter1_header")[0])
				assert.Equal(t, string(common.EventTypeBookDeleted), event.GetHeader(publisher.HeaderEventType)[0])
				next(ctx, event)
			}
		})

	require.NoError(t, pub.Publish(context.TODO(), event, map[string][]string{
		"header1": {"value1"},
	}))
	assert.True(t, secondInterceptorCalled)

	sub, err := js.SubscribeSync(subject)
	require.NoError(t, err)

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, data, msg.Data)
	assert.NotEmpty(t, msg.Header.Get(nats.MsgIdHdr))
}

func TestPublishWithClosedConnection(t *testing.T) {
	con, err := nats.Connect(getNatsUrl(t))
	require.NoError(t, err)

	pub := publisher.NewNatsPublisher(con, uuid.NewString())

	con.Close()
	assert.ErrorContains(t, pub.Publish(context.TODO(), common.BookDeleted{BookID: "b1"}, nil),
		"nats: connection closed")
}

func TestPublishInvalidEvent(t *testing.T) {
	pub := publisher.NewNatsPublisher(nil, "")

	assert.ErrorContains(t, pub.Publish(context.TODO(), nil, nil), "nil event")
}

func TestPublishWithoutConnection(t *testing.T) {
	pub := publisher.NewNatsPublisher(nil, "")

	assert.ErrorIs(t, pub.Publish(context.TODO(), common.BookDeleted{BookID: "b1"}, nil),
		nats.ErrInvalidConnection)
}

func getNatsUrl(t *testing.T) string {
	env := os.Getenv("NATS_HOST")
	if len(env) == 0 {
		t.Skip("NATS_HOST is not set")
	}

	return env
}
