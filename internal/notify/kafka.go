package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"balwatch/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// KafkaSink 将余额变动通知发布到Kafka topic
type KafkaSink struct {
	logger   *logrus.Logger
	topic    string
	producer sarama.SyncProducer
}

// NewKafkaSink 创建Kafka通知输出
func NewKafkaSink(brokers []string, topic string, logger *logrus.Logger) (*KafkaSink, error) {
	logger.Infof("初始化Kafka通知输出，brokers: %v, topic: %s", brokers, topic)

	// 配置Kafka生产者
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	// 创建同步生产者
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")

	return &KafkaSink{
		logger:   logger,
		topic:    topic,
		producer: producer,
	}, nil
}

// Publish 发布一条余额变动通知
func (k *KafkaSink) Publish(notification *models.Notification) error {
	if notification == nil {
		return nil
	}

	jsonData, err := json.Marshal(notification.Wire())
	if err != nil {
		return fmt.Errorf("序列化通知失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(notification.Address),
		Value: sarama.StringEncoder(jsonData),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送通知到Kafka失败: %w", err)
	}

	k.logger.Debugf("通知已发送到Kafka topic '%s' (partition: %d, offset: %d)",
		k.topic, partition, offset)

	return nil
}

// Close 关闭Kafka生产者
func (k *KafkaSink) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
