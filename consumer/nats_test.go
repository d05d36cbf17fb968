package consumer_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skynet2/catalogsync/common"
	"github.com/skynet2/catalogsync/consumer"
	"github.com/skynet2/catalogsync/publisher"
)

func natsURL(t *testing.T) string {
	env := os.Getenv("NATS_HOST")
	if len(env) == 0 {
		t.Skip("NATS_HOST is not set")
	}

	return env
}

func TestNatsBrokerDeliversAndRedelivers(t *testing.T) {
	url := natsURL(t)
	queue := uuid.NewString()

	con, err := nats.Connect(url)
	require.NoError(t, err)
	defer con.Close()

	broker := consumer.NewNatsBroker(consumer.NatsBrokerConfiguration{
		URL:       url,
		AckWait:   2 * time.Second,
		FetchWait: 200 * time.Millisecond,
	})
	defer broker.Close()

	var (
		mut      sync.Mutex
		received []string
		nacked   atomic.Bool
	)

	c := consumer.NewQueueConsumer(broker, consumer.Configuration{
		ConsumerName:   "catalog-test",
		Queue:          queue,
		ReconnectDelay: 100 * time.Millisecond,
	}, func(_ context.Context, req consumer.MessageRequest) (consumer.ConfirmationType, error) {
		bookID := req.Header()[publisher.HeaderBookID][0]

		if bookID == "b2" && nacked.CompareAndSwap(false, true) {
			return consumer.ConfirmationTypeNack, nil
		}

		mut.Lock()
		received = append(received, bookID)
		mut.Unlock()

		return consumer.ConfirmationTypeAck, nil
	}, consumer.WithExitOnSubscribeError(true))

	require.NoError(t, c.ConsumeAsync())
	defer func() {
		_ = c.Close()
	}()

	assert.Equal(t, consumer.StateConsuming, c.State())

	pub := publisher.NewNatsPublisher(con, queue)
	for _, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, pub.Publish(context.Background(), common.BookDeleted{BookID: id}, nil))
	}

	assert.Eventually(t, func() bool {
		mut.Lock()
		defer mut.Unlock()

		return len(received) == 3
	}, 10*time.Second, 50*time.Millisecond)

	mut.Lock()
	assert.ElementsMatch(t, []string{"b1", "b2", "b3"}, received)
	mut.Unlock()

	assert.True(t, nacked.Load())

	require.NoError(t, c.Close())
	assert.Equal(t, consumer.StateClosed, c.State())
}
