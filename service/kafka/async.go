package kafka

import (
	"HProject/logger"

	"github.com/Shopify/sarama"
)

var AsyncProd sarama.AsyncProducer

func InitAsyncProducerFromClient() error {
	p, err := sarama.NewAsyncProducerFromClient(KafkaClient)
	if err != nil {
		return err
	}
	AsyncProd = p

	go func() {
		for {
			select {
			case msg, ok := <-AsyncProd.Successes():
				if !ok {
					return
				}
				logger.Debugf("[kafka] sent topic=%s partition=%d offset=%d", msg.Topic, msg.Partition, msg.Offset)
			case err, ok := <-AsyncProd.Errors():
				if !ok {
					return
				}
				logger.Errorf("[kafka] async send error: %v", err)
			}
		}
	}()

	return nil
}

// SendAsync 投递一条消息；Key 用于按会话分区保序
func SendAsync(topic, key string, value []byte) {
	if AsyncProd == nil {
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	AsyncProd.Input() <- msg
}

// CloseAsync 关闭生产者（进程退出前调用）
func CloseAsync() {
	if AsyncProd != nil {
		AsyncProd.AsyncClose()
	}
}
