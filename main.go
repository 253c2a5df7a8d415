package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"HProject/global/config"
	"HProject/logger"
	"HProject/module/chat/store"
	"HProject/service/bus"
	"HProject/service/chat"
	"HProject/service/kafka"
	mgoSrv "HProject/service/mgo"
	"HProject/tools/safe"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config.ConfigAll(ctx)
	cfg := config.Global

	st := buildStore(ctx)

	b := bus.NewEventBus(bus.Config{
		ID:         cfg.NodeID,
		Subject:    cfg.BusSubject,
		Servers:    cfg.NatsServers,
		AuditTopic: cfg.AuditTopic,
	})

	gw := chat.NewServer(chat.Config{
		GatewayID:   cfg.NodeID,
		Addr:        cfg.GatewayAddr,
		TypingTTL:   time.Duration(cfg.TypingTTLSeconds) * time.Second,
		PresenceTTL: time.Duration(cfg.PresenceTTLSeconds) * time.Second,
	}, st, b)

	errCh := make(chan error, 1)
	safe.Go(func() { errCh <- gw.Run() })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Infof("收到退出信号 %v，开始优雅关闭", sig)
	case err := <-errCh:
		if err != nil {
			logger.Errorf("gateway exited: %v", err)
		}
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	if err := gw.Shutdown(shCtx); err != nil {
		logger.Errorf("gateway shutdown: %v", err)
	}
	b.Disconnect()
	kafka.CloseAsync()
	logger.Sync()
}

// buildStore mongo 配置了就等首连；没配走内存实现
func buildStore(ctx context.Context) store.Store {
	if !config.UseMongo() {
		return store.NewMemStore()
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Second)
	defer waitCancel()
	if err := mgoSrv.WaitReady(waitCtx, mgoSrv.Manager()); err != nil {
		logger.Errorf("mongo 连接超时: %v (last: %v)", err, mgoSrv.Err())
		os.Exit(1)
	}

	ms := store.NewMongoStore(mgoSrv.GetDB())
	if err := ms.EnsureIndexes(ctx); err != nil {
		logger.Errorf("建索引失败: %v", err)
	}
	return ms
}
