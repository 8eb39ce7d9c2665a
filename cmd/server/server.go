package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fenrir/internal/common"
	"fenrir/internal/config"
	"fenrir/internal/engine"
	"fenrir/internal/net"
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to the server config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	instruments := make([]common.Instrument, 0, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		instrument, err := ic.Instrument()
		if err != nil {
			log.Fatal().Err(err).Msg("invalid instrument config")
		}
		instruments = append(instruments, instrument)
	}

	exchange := common.ExchangeType{Name: cfg.Server.Exchange}
	eng := engine.New(exchange, nil, instruments...)

	srv := net.New(cfg.Server.Address, cfg.Server.Port, eng)
	stream := net.NewStreamServer()
	eng.SetReporter(engine.MultiReporter{srv, stream.Hub})

	go srv.Run(ctx)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.WebsocketPort)
		if err := stream.ListenAndServe(addr); err != nil {
			log.Error().Err(err).Msg("stream server exited")
		}
	}()

	<-ctx.Done()
}
