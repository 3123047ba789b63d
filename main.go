package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"

	"swarmrover/config"
	"swarmrover/mobility"
	"swarmrover/server"
)

// 入口：swarmrover [flags] [agent-name]
// 加载配置 → 初始化日志 → 启动总线与控制循环，Ctrl+C 优雅退出
func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("swarmrover", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (.yaml or .toml)")
	addr := fs.String("addr", "", "listen address, overrides config, e.g. :8080")
	logFile := fs.String("log-file", "", "log file path, overrides config")
	peers := fs.StringSlice("peer", nil, "peer websocket url (repeatable)")
	codec := fs.String("codec", "", "peer link codec: json|cbor")
	debug := fs.Bool("debug", false, "debug level logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if fs.NArg() >= 1 {
		cfg.Name = fs.Arg(0)
	}
	if strings.TrimSpace(cfg.Name) == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("no agent name given and hostname unavailable: %w", err)
		}
		cfg.Name = host
		fmt.Println("No name selected. Default is:", cfg.Name)
	}
	if fs.Changed("addr") {
		cfg.Listen = *addr
	}
	if fs.Changed("log-file") {
		cfg.LogFile = *logFile
	}
	if len(*peers) > 0 {
		cfg.Peers = append(cfg.Peers, *peers...)
	}
	if fs.Changed("codec") {
		cfg.Codec = *codec
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := zapcore.InfoLevel
	if *debug {
		level = zapcore.DebugLevel
	}
	logger, err := server.InitLogger(cfg.LogFile, level)
	if err != nil {
		return err
	}
	defer server.SyncLogger()

	roster, err := mobility.NewRoster(cfg.Roster, cfg.Name)
	if err != nil {
		return err
	}
	hub := server.NewHub(roster.Self())
	node := mobility.NewNode(cfg.NodeSettings(), roster, hub, mobility.WithLogger(logger))
	hub.Attach(node)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	(&server.Admin{Node: node, Hub: hub}).Routes(mux)
	srv := &http.Server{Addr: cfg.Listen, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("%s mobility node listening on %s", cfg.Name, cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("listen: %v", err)
			stop()
		}
	}()
	for _, url := range cfg.Peers {
		go hub.DialPeer(ctx, url, cfg.Codec)
	}

	err = node.Run(ctx)

	// 优雅退出（Ctrl+C）：循环已停止，定时器已释放，再关闭 HTTP 与连接
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	hub.CloseAll()
	return err
}
