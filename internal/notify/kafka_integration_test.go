//go:build integration

package notify

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/i474232898/weather-places/internal/repository"
)

const testTopic = "test-place-changes"

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("weather-places-test"))
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start kafka container")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 3, ReplicationFactor: 1}))
}

func TestKafkaSink_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	sink := NewKafkaSink([]string{broker}, testTopic, discardLogger())
	t.Cleanup(func() { _ = sink.Close() })

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := make(chan repository.ChangeEvent, 3)
	events <- repository.ChangeEvent{Kind: repository.EventInsertion, PlaceID: 11, Position: 0, At: at}
	events <- repository.ChangeEvent{Kind: repository.EventUpdate, PlaceID: 11, Position: 0, At: at}
	events <- repository.ChangeEvent{Kind: repository.EventDeletion, PlaceID: 11, Position: 0, At: at}
	close(events)
	require.NoError(t, sink.Run(ctx, events))

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: []string{broker},
		Topic:   testTopic,
		GroupID: "test-reader-" + strconv.FormatInt(time.Now().UnixNano(), 10),
	})
	t.Cleanup(func() { _ = reader.Close() })

	var kinds []string
	for len(kinds) < 3 {
		msg, err := reader.ReadMessage(ctx)
		require.NoError(t, err)
		assert.Equal(t, "11", string(msg.Key))
		for _, h := range msg.Headers {
			if h.Key == "event_kind" {
				kinds = append(kinds, string(h.Value))
			}
		}
	}
	assert.Equal(t, []string{"INSERTION", "UPDATE", "DELETION"}, kinds, "one key keeps one partition and its order")
}
