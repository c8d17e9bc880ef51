package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/soulkeeper/cmd/flags"
	"github.com/ruteri/soulkeeper/httpserver"
	"github.com/ruteri/soulkeeper/kms"
	"github.com/ruteri/soulkeeper/storage"
	"github.com/urfave/cli/v2"
)

var custodyThresholdFlag = &cli.IntFlag{
	Name:  "custody-threshold",
	Value: 0,
	Usage: "enable the custody API: number of key shares needed to unlock revival (0 disables)",
}

var custodySharerFlag = &cli.StringFlag{
	Name:  "custody-sharer",
	Value: "prime",
	Usage: "sharing scheme of the custody shares: 'prime' or 'vault'",
}

var holderPubkeyFlag = &cli.StringSliceFlag{
	Name:  "holder-pubkey",
	Usage: "PEM public key file of a share holder; when given, custody only accepts signed shares",
}

func main() {
	app := &cli.App{
		Name:  "soulgateway",
		Usage: "Serve the soul storage gateway",
		Flags: append([]cli.Flag{
			flags.ConfigFlag,
			flags.ListenAddrFlag,
			flags.TrustProxyFlag,
			flags.LogServiceFlagFn("soulgateway"),
			custodyThresholdFlag,
			custodySharerFlag,
			holderPubkeyFlag,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := flags.LoadConfig(cCtx)
			if err != nil {
				logger.Error("Failed to load config", "err", err)
				return err
			}

			ctx := context.Background()
			store, err := cfg.OpenSoulStore(ctx, storage.NewStorageBackendFactory(logger), logger)
			if err != nil {
				logger.Error("Failed to open soul store", "err", err)
				return err
			}
			defer store.Close()

			serverCfg := flags.ConfigureServer(cCtx, logger, cfg)

			if threshold := cCtx.Int(custodyThresholdFlag.Name); threshold > 0 {
				collector, err := newCollector(cCtx, threshold)
				if err != nil {
					logger.Error("Failed to configure custody", "err", err)
					return err
				}
				serverCfg.Custody = collector
				logger.Info("Custody API enabled", "threshold", threshold, "holders", len(cCtx.StringSlice(holderPubkeyFlag.Name)))
			}

			server, err := httpserver.New(serverCfg, store)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting soul gateway", "backends", len(cfg.Backends))
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCollector(cCtx *cli.Context, threshold int) (*kms.ShareCollector, error) {
	sharer, err := kms.SharerByName(cCtx.String(custodySharerFlag.Name))
	if err != nil {
		return nil, err
	}

	collector, err := kms.NewShareCollector(sharer, threshold)
	if err != nil {
		return nil, err
	}

	for _, path := range cCtx.StringSlice(holderPubkeyFlag.Name) {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read holder key: %w", err)
		}
		if err := collector.RegisterHolder(pem); err != nil {
			return nil, fmt.Errorf("holder key %s: %w", path, err)
		}
	}
	return collector, nil
}
