package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"wisefido-vitals/common/database"
	mqttcommon "wisefido-vitals/common/mqtt"
	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/consumer"
	"wisefido-vitals/internal/gateway"
	httpapi "wisefido-vitals/internal/http"
	"wisefido-vitals/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// VitalsService 生命体征网关服务（整合各层）
type VitalsService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger

	// 各层组件
	vitalsRepo     *repository.VitalSignsRepository
	alertsRepo     *repository.AlertsRepository
	devicesRepo    *repository.DevicesRepository
	patientsRepo   *repository.PatientsRepository
	cacheManager   *consumer.CacheManager
	alertPublisher *consumer.AlertPublisher
	gateway        *gateway.Gateway
	router         *httpapi.Router
	mqttConsumer   *consumer.MQTTConsumer
	streamConsumer *consumer.StreamConsumer
	server         *http.Server

	mu   sync.Mutex
	addr net.Addr
}

// NewVitalsService 连接外部依赖并创建服务
func NewVitalsService(cfg *config.Config, logger *zap.Logger) (*VitalsService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. 连接 Redis（缓存 / Streams 任一启用时）
	var redisClient *redis.Client
	if needsRedis(cfg) {
		redisClient, err = rediscommon.Connect(context.Background(), &cfg.Redis)
		if err != nil {
			database.Close(db)
			return nil, err
		}
	}

	// 3. 连接 MQTT（可选）
	var mqttClient *mqttcommon.Client
	if cfg.Ingest.MQTTEnabled {
		mqttClient, err = mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			database.Close(db)
			rediscommon.Close(redisClient)
			return nil, err
		}
	}

	return newVitalsService(cfg, db, redisClient, mqttClient, logger), nil
}

// newVitalsService 组装各层组件；redisClient / mqttClient 为 nil 时跳过对应功能
func newVitalsService(
	cfg *config.Config,
	db *sql.DB,
	redisClient *redis.Client,
	mqttClient *mqttcommon.Client,
	logger *zap.Logger,
) *VitalsService {
	s := &VitalsService{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		logger:      logger,
	}

	// Repository 层
	s.vitalsRepo = repository.NewVitalSignsRepository(db, logger)
	s.alertsRepo = repository.NewAlertsRepository(db, logger)
	s.devicesRepo = repository.NewDevicesRepository(db, logger)
	s.patientsRepo = repository.NewPatientsRepository(db, logger)

	stores := gateway.Stores{
		Vitals:   s.vitalsRepo,
		Alerts:   s.alertsRepo,
		Devices:  s.devicesRepo,
		Patients: s.patientsRepo,
	}

	// Redis 缓存 / 报警输出流
	if redisClient != nil {
		if cfg.Cache.Enabled {
			s.cacheManager = consumer.NewCacheManager(&cfg.Cache, redisClient, logger)
			stores.Cache = s.cacheManager
		}
		if cfg.Ingest.AlertStream != "" {
			s.alertPublisher = consumer.NewAlertPublisher(cfg.Ingest.AlertStream, redisClient, logger)
			stores.Publisher = s.alertPublisher
		}
	}

	// 网关 + HTTP 路由
	s.gateway = gateway.NewGateway(&cfg.Gateway, stores, logger)
	s.router = httpapi.NewRouter(logger)
	s.router.RegisterGatewayRoutes(cfg.Gateway.Path, s.gateway)
	s.router.RegisterHealthRoutes(httpapi.NewHealthHandler(s.gateway.Registry(), db, redisClient, logger))
	s.router.RegisterAlertRoutes(httpapi.NewAlertsHandler(s.alertsRepo, logger))

	// 设备接入
	if mqttClient != nil {
		s.mqttConsumer = consumer.NewMQTTConsumer(&cfg.Ingest, cfg.MQTT.QoS, mqttClient, s.gateway, s.devicesRepo, logger)
	}
	if redisClient != nil && cfg.Ingest.StreamEnabled {
		s.streamConsumer = consumer.NewStreamConsumer(&cfg.Ingest, redisClient, s.gateway, logger)
	}

	s.server = &http.Server{
		Addr:              cfg.Gateway.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler HTTP 入口（/ws、/healthz、/alerts/unresolved）
func (s *VitalsService) Handler() http.Handler {
	return s.router
}

// Gateway websocket 网关
func (s *VitalsService) Gateway() *gateway.Gateway {
	return s.gateway
}

// Addr 实际监听地址（Start 绑定端口之前为 nil）
func (s *VitalsService) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start 启动 HTTP 服务与设备接入消费者，阻塞直到 ctx 取消或 HTTP 服务出错
func (s *VitalsService) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Gateway.ListenAddr)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("Starting vitals service",
		zap.String("listen_addr", ln.Addr().String()),
		zap.String("path", s.config.Gateway.Path),
		zap.Bool("mqtt_enabled", s.mqttConsumer != nil),
		zap.Bool("stream_enabled", s.streamConsumer != nil),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	if s.mqttConsumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.mqttConsumer.Start(ctx); err != nil {
				errChan <- fmt.Errorf("mqtt consumer: %w", err)
			}
		}()
	}

	if s.streamConsumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.streamConsumer.Start(ctx); err != nil {
				errChan <- fmt.Errorf("stream consumer: %w", err)
			}
		}()
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errChan:
		s.logger.Error("Vitals service component failed", zap.Error(runErr))
	}

	cancel()
	s.shutdownHTTP()
	wg.Wait()
	return runErr
}

func (s *VitalsService) shutdownHTTP() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 先停止监听，再关闭已升级的 websocket 连接（Shutdown 不跟踪被劫持的连接）
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown http server", zap.Error(err))
	}
	s.gateway.CloseAll()
}

// Stop 释放外部连接
func (s *VitalsService) Stop() error {
	s.logger.Info("Stopping vitals service")

	if s.mqttConsumer != nil {
		s.mqttConsumer.Stop()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Cache.Enabled || cfg.Ingest.StreamEnabled || cfg.Ingest.AlertStream != ""
}
