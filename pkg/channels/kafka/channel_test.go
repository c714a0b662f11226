package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChannel_RequiresBrokers(t *testing.T) {
	_, _, err := CreateChannel(watermill.NopLogger{}, nil, "worker", false)
	require.ErrorIs(t, err, ErrNoBrokers)

	_, _, err = CreateChannel(watermill.NopLogger{}, []string{""}, "worker", false)
	require.ErrorIs(t, err, ErrNoBrokers)
}

func TestPartitionByKey(t *testing.T) {
	msg := message.NewMessage("1", nil)
	msg.Metadata.Set(events.EventMetadataKey, "lead-1")

	key, err := partitionByKey(events.Topic, msg)
	require.NoError(t, err)
	assert.Equal(t, "lead-1", key)
}

func TestSaramaConfigs(t *testing.T) {
	consumer := consumerConfig("crmflow")
	require.NoError(t, consumer.Validate())
	assert.Equal(t, sarama.OffsetOldest, consumer.Consumer.Offsets.Initial)
	assert.Equal(t, "crmflow", consumer.ClientID)

	producer := producerConfig("crmflow")
	require.NoError(t, producer.Validate())
	assert.True(t, producer.Producer.Return.Successes)
	assert.Equal(t, sarama.WaitForAll, producer.Producer.RequiredAcks)
}
