package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pbaille/lens/internal/aggregate"
	"github.com/pbaille/lens/internal/answer"
	"github.com/pbaille/lens/internal/api"
	"github.com/pbaille/lens/internal/autofetch"
	"github.com/pbaille/lens/internal/events"
	"github.com/pbaille/lens/internal/knowledge"
	"github.com/pbaille/lens/internal/market"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			src, closeSrc, err := getSource(cfg)
			if err != nil {
				return err
			}
			defer closeSrc()

			g, ctx := errgroup.WithContext(cmd.Context())
			hub := events.NewHub(logger)

			var enricher *market.Enricher
			if cfg.Market.URL != "" {
				enricher = market.NewEnricher(market.NewClient(cfg.Market.URL, cfg.Market.RateLimit), market.Options{
					Logger: logger,
					OnRefreshing: func(on bool) {
						if on {
							hub.Publish(events.MarketRefreshing, nil)
						}
					},
					OnUpdate: func(snap market.Snapshot) {
						hub.Publish(events.MarketUpdated, map[string]any{
							"quotes":     len(snap.Quotes),
							"updated_at": snap.UpdatedAt,
						})
					},
					OnStale: func(err error) {
						hub.Publish(events.MarketStale, map[string]string{"error": err.Error()})
					},
				})
			} else {
				logger.Warn("market url not set, market data disabled")
			}

			opts := aggregateOptions(cfg)
			svc := knowledge.NewService(src, knowledge.Options{
				Logger:       logger,
				StrictWrites: cfg.Knowledge.StrictWrites,
				OnUpdate: func(snap knowledge.Snapshot) {
					hub.Publish(events.KnowledgeUpdated, map[string]any{
						"records":    len(snap.Records),
						"updated_at": snap.UpdatedAt,
					})
					if enricher == nil {
						return
					}
					res := aggregate.Compute(snap.Records, opts)
					coins := make([]string, len(res.CoinCategories))
					for i, c := range res.CoinCategories {
						coins[i] = c.Coin
					}
					g.Go(func() error {
						enricher.Refresh(ctx, coins)
						return nil
					})
				},
			})

			apiCfg := api.Config{
				Knowledge:  svc,
				Events:     hub,
				Aggregate:  opts,
				CORSOrigin: cfg.Server.CORSOrigin,
				Logger:     logger,
			}
			if enricher != nil {
				apiCfg.Market = enricher
			}
			if cfg.Answer.Endpoint != "" {
				apiCfg.Answer = answer.New(cfg.Answer.Endpoint, cfg.Answer.APIKey, cfg.Answer.Project)
			}
			if cfg.Autofetch.WebhookURL != "" {
				apiCfg.Autofetch = autofetch.New(cfg.Autofetch.WebhookURL)
			}

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           api.New(apiCfg).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g.Go(func() error {
				return svc.Run(ctx, cfg.Knowledge.PollInterval)
			})
			if enricher != nil {
				g.Go(func() error {
					return enricher.Run(ctx, cfg.Market.PollInterval)
				})
			}
			g.Go(func() error {
				logger.Info("server listening", "addr", srv.Addr, "storage", cfg.Storage.Driver)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				logger.Info("shutting down")
				hub.Close()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address (overrides config)")
	return cmd
}
