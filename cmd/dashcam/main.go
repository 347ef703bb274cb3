package main

import (
	"context"
	"expvar"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gowvp/dashcam/internal/app"
	"github.com/gowvp/dashcam/internal/conf"
	"github.com/ixugo/goddd/pkg/system"
)

// 编译期通过 -ldflags 注入
var (
	buildVersion = "dev"
	gitBranch    = "unknown"
	gitHash      = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "conf", filepath.Join(system.Getwd(), "configs", "config.toml"), "配置文件路径")
	flag.Parse()

	expvar.NewString("git_branch").Set(gitBranch)
	expvar.NewString("git_hash").Set(gitHash)

	var bc conf.Bootstrap
	bc.BuildVersion = buildVersion
	if err := conf.SetupConfig(&bc, configPath); err != nil {
		slog.Error("加载配置失败", "path", configPath, "err", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if bc.Server.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	svr, cleanup, err := app.Run(&bc, log)
	if err != nil {
		slog.Error("启动失败", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("收到退出信号，开始优雅退出")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := svr.Shutdown(ctx); err != nil {
		slog.Error("优雅退出超时", "err", err)
	}
}
