//go:build integration

package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"guildgate/internal/audit"
	"guildgate/internal/platform/kafka"
	"guildgate/pkg/testutil/containers"
)

func TestKafkaPublisherRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	broker := containers.GetManager().GetKafka(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := kafka.Config{Brokers: broker.Brokers, Topic: "verification-outcomes-" + uuid.NewString()}
	client, err := kafka.NewClient(cfg)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, kafka.EnsureTopic(ctx, client, cfg))
	require.NoError(t, kafka.EnsureTopic(ctx, client, cfg), "bootstrap is idempotent")

	pub, err := audit.NewKafkaPublisher(client, cfg.Topic)
	require.NoError(t, err)

	event := audit.Event{
		ID:          uuid.New(),
		Type:        audit.EventVerificationOutcome,
		Timestamp:   time.Now().UTC().Truncate(time.Millisecond),
		CommunityID: "guild1",
		SubjectID:   "user1",
		Outcome:     "granted",
		RiskScore:   10,
	}
	require.NoError(t, pub.Publish(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.NotEmpty(t, records)

	var got audit.Event
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	require.Equal(t, event.ID, got.ID)
	require.Equal(t, "guild1:user1", string(records[0].Key))
}
