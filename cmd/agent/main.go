package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"civic-mesh/internal/app"
	"civic-mesh/internal/app/agent"
	"civic-mesh/pkg/config"
)

func main() {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	// 同一份配置可启动不同 agent
	if id := os.Getenv("CIVIC_AGENT_IDENTITY"); id != "" {
		cfg.Agents.Identity = id
	}

	ctx := context.Background()
	bootstrap, err := app.NewBootstrap(ctx, cfg)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	application, err := agent.NewApp(ctx, bootstrap)
	if err != nil {
		log.Fatalf("创建 agent 应用失败: %v", err)
	}

	go func() {
		if err := application.Run(); err != nil && err != http.ErrServerClosed {
			log.Printf("agent 服务异常退出: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		log.Printf("关闭失败: %v", err)
	}
	log.Printf("agent %s 已关闭", application.Identity())
}
