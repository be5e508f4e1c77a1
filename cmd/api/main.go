package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/zeroexport/internal/adapter/actor"
	"github.com/berfenger/zeroexport/internal/adapter/device"
	"github.com/berfenger/zeroexport/internal/config"
	"github.com/berfenger/zeroexport/internal/core/actor"
	"github.com/berfenger/zeroexport/internal/core/domain"
	"github.com/berfenger/zeroexport/internal/server"
	"github.com/berfenger/zeroexport/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := config.Load(viper.New())
	if err != nil {
		var cfgErr *domain.ConfigurationError
		if errors.As(err, &cfgErr) {
			slog.Error("invalid configuration", "param", cfgErr.Param, "reason", cfgErr.Reason)
		} else {
			slog.Error("config errors", "error", err)
		}
		os.Exit(1)
	}
	slog.Info("Using", "config", cfg.Redacted())

	regulatorConfig, err := domain.NewRegulatorConfig(cfg.RegulatorParams())
	if err != nil {
		slog.Error("invalid regulator configuration", "error", err)
		os.Exit(1)
	}

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	logger.Info("zeroexport starting",
		zap.String("version", versioninfo.Short()),
		zap.String("meter", cfg.Meter.Type),
		zap.String("inverter", cfg.Inverter.Type))

	// init device actor provider
	deviceProv, err := deviceActorProvider(cfg, logger)
	if err != nil {
		logger.Error("cannot create devices", zap.Error(err))
		os.Exit(1)
	}

	var mqttProv actor.MQTTActorProvider
	if cfg.MQTT.Enable {
		mqttProv = mqttActorProvider(cfg, logger)
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, regulatorConfig, deviceProv, mqttProv, logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		logger.Error("cannot spawn master actor", zap.Error(err))
		os.Exit(1)
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func deviceActorProvider(cfg *config.Config, logger *zap.Logger) (actor.DeviceActorProvider, error) {

	meter, err := device.NewPowerMeter(*cfg, logger)
	if err != nil {
		return nil, err
	}

	inverter, err := device.NewInverter(*cfg, logger)
	if err != nil {
		return nil, err
	}

	return func() pactor.Actor {
		return adactor.NewDeviceActor(meter, inverter, cfg.RequestTimeout(), logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) pactor.Actor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}
