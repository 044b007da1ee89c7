package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"futurehouse-gateway/internal/api"
	"futurehouse-gateway/internal/config"
	"futurehouse-gateway/internal/futurehouse"
	"futurehouse-gateway/internal/gateway"
	"futurehouse-gateway/internal/history"
	"futurehouse-gateway/internal/notify"
	"futurehouse-gateway/internal/observability/metrics"
	"futurehouse-gateway/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（JSON 或 YAML），留空时仅依赖环境变量")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fhgatewayd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if configPath == "" {
		configPath = os.Getenv("FHGW_CONFIG")
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	client, err := futurehouse.NewClient(futurehouse.Config{
		BaseURL:      cfg.FutureHouse.BaseURL,
		APIKey:       cfg.FutureHouse.APIKey,
		Timeout:      cfg.FutureHouse.Timeout(),
		PollInterval: cfg.FutureHouse.PollInterval(),
	})
	if err != nil {
		return fmt.Errorf("初始化远端客户端失败: %w", err)
	}
	if cfg.FutureHouse.APIKey == "" {
		logger.L().Warn("未配置远端 API Key，远端调用将在首次请求时失败",
			slog.String("env", cfg.FutureHouse.APIKeyEnv))
	}

	store, err := buildHistoryStore(cfg.History)
	if err != nil {
		return fmt.Errorf("初始化提交历史存储失败: %w", err)
	}
	defer func() { _ = store.Close() }()

	dispatcher, err := buildDispatcher(cfg.Notify)
	if err != nil {
		return fmt.Errorf("初始化事件通知失败: %w", err)
	}
	defer dispatcherClose(dispatcher)

	service := gateway.NewService(client, store,
		gateway.WithDispatcher(dispatcher),
		gateway.WithBatchWorkers(cfg.Gateway.BatchWorkers),
	)

	if cfg.Observability.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Observability.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, service,
		api.WithAuthToken(cfg.Server.AuthToken),
		api.WithAPIKeyConfigured(cfg.FutureHouse.APIKey != ""),
	)

	logger.L().Info("网关启动",
		slog.String("address", cfg.Server.Address),
		slog.String("history_driver", cfg.History.Driver),
		slog.String("notify_driver", cfg.Notify.Driver),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.L().Info("网关已退出")
	return nil
}

// buildHistoryStore 根据配置选择提交历史的存储后端。
func buildHistoryStore(cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return history.NewMemoryStore(cfg.Memory.MaxEntries), nil
	case "mysql":
		return history.NewMySQLStore(cfg.DSN)
	case "redis":
		return history.NewRedisStore(history.RedisStoreConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("不支持的历史存储驱动: %s", cfg.Driver)
	}
}

// buildDispatcher 根据配置选择事件通知方式。
func buildDispatcher(cfg config.NotifyConfig) (notify.Dispatcher, error) {
	switch cfg.Driver {
	case "":
		return notify.NopDispatcher{}, nil
	case "log":
		return notify.NewFanout(notify.NewLogNotifier(nil)), nil
	case "rabbitmq":
		publisher, err := notify.NewRabbitMQNotifier(notify.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, err
		}
		return notify.NewFanout(notify.NewLogNotifier(nil), publisher), nil
	default:
		return nil, fmt.Errorf("不支持的通知驱动: %s", cfg.Driver)
	}
}

func dispatcherClose(dispatcher notify.Dispatcher) {
	type closer interface{ Close() error }
	if c, ok := dispatcher.(closer); ok {
		_ = c.Close()
	}
}
