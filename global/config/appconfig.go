package config

// AppConfig 进程级配置。默认值可跑单机，
// 生产环境用环境变量覆盖（见 config.go 的 key 列表）。
type AppConfig struct {
	NodeID      string // 网关/总线节点标识，事件 Origin
	SnowNode    int64  // snowflake 节点号
	GatewayAddr string // ws/http 监听地址

	MongoURI      string
	MongoDatabase string
	MongoUser     string
	MongoPassword string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NatsServers []string // 为空则总线走 local-only
	BusSubject  string

	KafkaBrokers []string // 为空则不接审计管道
	AuditTopic   string

	TypingTTLSeconds   int
	PresenceTTLSeconds int
}
