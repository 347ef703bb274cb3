package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gowvp/dashcam/internal/conf"
)

// Run 组装依赖并启动 http 服务
// 返回 server 供调用方优雅退出，cleanup 在退出后调用
func Run(bc *conf.Bootstrap, log *slog.Logger) (*http.Server, func(), error) {
	handler, cleanup, err := wireApp(bc, log)
	if err != nil {
		return nil, nil, err
	}

	svr := http.Server{
		Addr:              fmt.Sprintf(":%d", bc.Server.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http 服务已启动", "addr", svr.Addr, "version", bc.BuildVersion)
		if err := svr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http 服务异常退出", "err", err)
			os.Exit(1)
		}
	}()
	return &svr, cleanup, nil
}
