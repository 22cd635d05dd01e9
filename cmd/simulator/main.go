package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/logging"
	"github.com/safestrip/safestrip/internal/simulator"
)

func main() {
	_ = godotenv.Load()

	baseURL := flag.String("url", envOr("SAFESTRIP_URL", "http://localhost:8080"), "backend base URL")
	deviceID := flag.String("device", os.Getenv("SIM_DEVICE_ID"), "device id to report as")
	sensorType := flag.String("type", "current", "sensor type: current, water or temp")
	outlet := flag.Int("outlet", -1, "outlet index, -1 for device level")
	interval := flag.Duration("interval", time.Second, "time between readings")
	count := flag.Int("count", 0, "number of readings, 0 runs until interrupted")
	flag.Parse()

	logger, err := logging.New(envOr("LOG_LEVEL", "info"), envOr("LOG_FORMAT", "console"), "safestrip-simulator")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if *deviceID == "" {
		logger.Fatal("A device id is required (-device or SIM_DEVICE_ID)")
	}

	opts := simulator.Options{
		DeviceID:   *deviceID,
		SensorType: *sensorType,
		Interval:   *interval,
		Count:      *count,
	}
	if *outlet >= 0 {
		opts.OutletIndex = outlet
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting simulator",
		zap.String("url", *baseURL),
		zap.String("device_id", opts.DeviceID),
		zap.String("sensor_type", opts.SensorType),
		zap.Duration("interval", opts.Interval))

	sent, err := simulator.Run(ctx, simulator.NewClient(*baseURL, logger), opts, logger)
	if err != nil {
		logger.Error("Simulator stopped", zap.Int("sent", sent), zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Simulator finished", zap.Int("sent", sent))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
