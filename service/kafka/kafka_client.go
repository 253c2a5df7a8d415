package kafka

import (
	"time"

	"github.com/Shopify/sarama"
)

var KafkaClient sarama.Client

// Config 审计管道配置（producer-only）
type Config struct {
	Brokers         []string
	ProducerRetries int
}

func buildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 3
	}
	cfg.Producer.Retry.Max = c.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func InitKafkaClient(c Config) error {
	cfg := buildBaseConfig(c)
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return err
	}
	KafkaClient = client
	return nil
}

// Ready 是否已初始化（审计是可选依赖，调用方据此跳过）
func Ready() bool { return KafkaClient != nil && AsyncProd != nil }
