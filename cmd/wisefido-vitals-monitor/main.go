package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-vitals/common/logger"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/monitor"
	"wisefido-vitals/internal/transport"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const backlogLimit = 50

func main() {
	var (
		configPath string
		gatewayURL string
		healthURL  string
		alertsURL  string
		patientIDs []string
		vitalsJSON string
	)
	flagSet := pflag.NewFlagSet("wisefido-vitals-monitor", pflag.ExitOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $"+config.ConfigFileEnv+")")
	flagSet.StringVar(&gatewayURL, "url", "", "gateway websocket URL (overrides monitor.gateway_url)")
	flagSet.StringVar(&healthURL, "health-url", "", "gateway health URL (overrides monitor.health_url)")
	flagSet.StringVar(&alertsURL, "alerts-url", "", "unresolved alerts URL (overrides monitor.alerts_url)")
	flagSet.StringSliceVar(&patientIDs, "patient", nil, "patient room to join (repeatable); empty subscribes to global events")
	flagSet.StringVar(&vitalsJSON, "send-vitals", "", "vitals_data JSON to send once connected (device proxy mode)")
	_ = flagSet.Parse(os.Args[1:])

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if gatewayURL != "" {
		cfg.Monitor.GatewayURL = gatewayURL
	}
	if healthURL != "" {
		cfg.Monitor.HealthURL = healthURL
	}
	if alertsURL != "" {
		cfg.Monitor.AlertsURL = alertsURL
	}
	if len(patientIDs) > 0 {
		cfg.Monitor.PatientIDs = patientIDs
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-vitals-monitor")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	var vitals *models.VitalsData
	if vitalsJSON != "" {
		vitals, err = models.DecodeVitalsData([]byte(vitalsJSON))
		if err != nil {
			log.Fatal("Invalid --send-vitals payload", zap.Error(err))
		}
	}

	// 健康检查失败不阻止连接，客户端自带重连
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	status, err := monitor.NewHealthClient(cfg.Monitor.HealthURL, log).Check(ctx)
	cancel()
	if err != nil {
		log.Warn("Gateway health check failed", zap.Error(err))
	} else {
		log.Info("Gateway health",
			zap.String("status", status.Status),
			zap.Int("connections", status.Connections),
		)
	}

	client := transport.NewClient(cfg.Monitor.GatewayURL, log)
	mon := monitor.NewMonitor(client, cfg.Monitor.PatientIDs, log)

	// 先输出积压的未解决报警，再接收实时事件
	if cfg.Monitor.AlertsURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		backlog, err := monitor.NewAlertsClient(cfg.Monitor.AlertsURL, log).
			Unresolved(ctx, cfg.Monitor.PatientIDs, backlogLimit)
		cancel()
		if err != nil {
			log.Warn("Failed to fetch unresolved alerts", zap.Error(err))
		} else {
			mon.ReportBacklog(backlog)
		}
	}
	if vitals != nil {
		mon.OnConnected(func() {
			if err := mon.SendVitals(vitals); err != nil {
				log.Error("Failed to send vitals", zap.Error(err))
			}
		})
	}

	client.Connect()
	defer client.Disconnect()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	stats := mon.Stats()
	log.Info("Monitor stopped",
		zap.String("signal", sig.String()),
		zap.Int("vitals", stats.Vitals),
		zap.Any("alerts", stats.Alerts),
		zap.Int("backlog", stats.Backlog),
		zap.Int("errors", stats.Errors),
	)
}
