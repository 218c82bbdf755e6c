package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDisabledPublisherIsNoOp(t *testing.T) {
	pub := NewPublisher(nil, "hoya-cluster-events", "test-cluster", zap.NewNop())

	// 未配置 broker 时发布是空操作，不会出错也不会阻塞
	pub.PhaseChanged("LIVE")
	pub.NodeTransition("container_1", "worker", "LIVE")
	pub.Close()

	assert.Nil(t, pub.writer)
}

func TestEnabledPublisherBuildsWriter(t *testing.T) {
	pub := NewPublisher([]string{"broker1:9092", "broker2:9092"}, "custom-topic", "c", zap.NewNop())
	defer pub.Close()

	assert.NotNil(t, pub.writer)
	assert.Equal(t, "custom-topic", pub.writer.Topic)
}
