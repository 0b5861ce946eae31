package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"keypad-service/internal/config"
	"keypad-service/internal/core"
	"keypad-service/internal/hardware"
	"keypad-service/internal/logger"
	"keypad-service/internal/messaging"
)

func main() {
	// Service log level
	var serviceLogLevel int
	flag.IntVar(&serviceLogLevel, "log", 3, "Service log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")

	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config file (defaults compiled in)")

	flag.Parse()

	// Create standard logger with appropriate format
	var stdLogger *log.Logger
	if os.Getenv("INVOCATION_ID") != "" {
		// Running under systemd, use minimal format
		stdLogger = log.New(os.Stdout, "", 0)
	} else {
		// Running interactively, use timestamps
		stdLogger = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
	}

	// Create leveled logger
	l := logger.NewLogger(stdLogger, logger.LogLevel(serviceLogLevel))

	l.Infof("Starting keypad service...")

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			l.Fatalf("Failed to load config %s: %v", configPath, err)
		}
		l.Infof("Loaded config from %s", configPath)
	}

	io := hardware.NewLinuxHardwareIO(cfg.Hardware.InputDevice, cfg.OutputPins())
	redis := messaging.NewRedisClient(cfg.Redis.Host, cfg.Redis.Port, l.WithTag("Redis"))

	system := core.NewKeypadSystem(io, redis, l)
	if err := system.Start(); err != nil {
		l.Fatalf("Failed to start system: %v", err)
	}

	l.Infof("System started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	l.Infof("Received signal %v, shutting down...", sig)
	system.Shutdown()
	l.Infof("Shutdown complete")
}
