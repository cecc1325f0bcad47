package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bav/internal/platform/config"
)

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(config.KafkaConfig{TxMATopic: "txma"})
	assert.Error(t, err)
}

func TestProducer_UnreachableBrokerFailsWithinDeliveryTimeout(t *testing.T) {
	producer, err := NewProducer(config.KafkaConfig{
		Brokers:         []string{"127.0.0.1:1"},
		TxMATopic:       "txma-unreachable",
		ClientID:        "bav-test",
		DeliveryTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = producer.Close(ctx)
	}()

	result := make(chan error, 1)
	go func() {
		result <- producer.Produce(context.Background(), []byte("s1"), []byte(`{}`))
	}()

	select {
	case err := <-result:
		assert.Error(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("produce to an unreachable broker did not give up")
	}
}
