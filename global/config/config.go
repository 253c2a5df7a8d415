package config

import (
	"context"
	"os"
	"strings"

	"HProject/data/database/mgo/mongoutil"
	"HProject/logger"
	"HProject/service/kafka"
	mgoSrv "HProject/service/mgo"
	redis "HProject/service/storage/redis"
	ids "HProject/tools/ids"
)

// 环境变量 key
const (
	EnvNodeID    = "HELPDESK_NODE_ID"
	EnvGateway   = "HELPDESK_GATEWAY_ADDR"
	EnvMongoURI  = "HELPDESK_MONGO_URI"
	EnvMongoDB   = "HELPDESK_MONGO_DB"
	EnvMongoUser = "HELPDESK_MONGO_USER"
	EnvMongoPass = "HELPDESK_MONGO_PASS"
	EnvRedisAddr = "HELPDESK_REDIS_ADDR"
	EnvRedisPass = "HELPDESK_REDIS_PASS"
	EnvNats      = "HELPDESK_NATS_SERVERS" // 逗号分隔
	EnvKafka     = "HELPDESK_KAFKA_BROKERS"
	EnvAudit     = "HELPDESK_AUDIT_TOPIC"
)

var Global = AppConfig{
	NodeID:      "gateway_10",
	SnowNode:    100,
	GatewayAddr: ":8891",

	MongoDatabase: "helpdeskChat",

	RedisDB: 0,

	BusSubject: "helpdesk.chat.events",
	AuditTopic: "helpdesk_chat_audit",

	TypingTTLSeconds:   3,
	PresenceTTLSeconds: 60,
}

// Load 读环境变量覆盖默认配置
func Load() {
	Global.NodeID = getenv(EnvNodeID, Global.NodeID)
	Global.GatewayAddr = getenv(EnvGateway, Global.GatewayAddr)
	Global.MongoURI = getenv(EnvMongoURI, Global.MongoURI)
	Global.MongoDatabase = getenv(EnvMongoDB, Global.MongoDatabase)
	Global.MongoUser = getenv(EnvMongoUser, Global.MongoUser)
	Global.MongoPassword = getenv(EnvMongoPass, Global.MongoPassword)
	Global.RedisAddr = getenv(EnvRedisAddr, Global.RedisAddr)
	Global.RedisPassword = getenv(EnvRedisPass, Global.RedisPassword)
	Global.NatsServers = splitList(getenv(EnvNats, strings.Join(Global.NatsServers, ",")))
	Global.KafkaBrokers = splitList(getenv(EnvKafka, strings.Join(Global.KafkaBrokers, ",")))
	Global.AuditTopic = getenv(EnvAudit, Global.AuditTopic)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func ConfigAll(ctx context.Context) {
	Load()
	ConfigIds()
	ConfigRedis()
	ConfigMgo(ctx)
	ConfigKafka()
}

func ConfigIds() {
	logger.Infof("配置 id 生成 node=%d", Global.SnowNode)
	ids.SetNodeID(Global.SnowNode)
}

// ConfigRedis redis 是可选依赖：连不上只降级 presence，不拦启动
func ConfigRedis() {
	if Global.RedisAddr == "" {
		logger.Infof("redis 未配置，presence 降级为仅广播")
		return
	}
	err := redis.InitRedis(redis.Config{
		Addr:     Global.RedisAddr,
		Password: Global.RedisPassword,
		DB:       Global.RedisDB,
	})
	if err != nil {
		logger.Errorf("redis init failed addr=%s: %v", Global.RedisAddr, err)
	}
}

// ConfigMgo 异步连接，首连成功前 mgoSrv.Ready() 不会关闭。
// MongoURI 为空时不启动，调用方改用内存存储。
func ConfigMgo(ctx context.Context) {
	if Global.MongoURI == "" {
		logger.Infof("mongo 未配置，使用内存存储")
		return
	}
	cfg := &mongoutil.Config{
		Uri:         Global.MongoURI,
		Database:    Global.MongoDatabase,
		Username:    Global.MongoUser,
		Password:    Global.MongoPassword,
		MaxPoolSize: 20,
	}
	mgoSrv.StartAsync(ctx, cfg)
}

// ConfigKafka 审计管道可选：没配 broker 或连不上都只记日志
func ConfigKafka() {
	if len(Global.KafkaBrokers) == 0 {
		logger.Infof("kafka 未配置，跳过审计管道")
		return
	}
	if err := kafka.InitKafkaClient(kafka.Config{Brokers: Global.KafkaBrokers}); err != nil {
		logger.Errorf("kafka client init failed: %v", err)
		return
	}
	if err := kafka.InitAsyncProducerFromClient(); err != nil {
		logger.Errorf("kafka producer init failed: %v", err)
	}
}

// UseMongo 是否配置了文档库
func UseMongo() bool { return Global.MongoURI != "" }
