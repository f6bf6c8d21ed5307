// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aiku/roombridge/pkg/adminapi"
	"github.com/aiku/roombridge/pkg/bridge"
	"github.com/aiku/roombridge/pkg/config"
	"github.com/aiku/roombridge/pkg/dedup"
	"github.com/aiku/roombridge/pkg/links"
	"github.com/aiku/roombridge/pkg/mattermost"
	"github.com/aiku/roombridge/pkg/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge (default)",
	RunE:  runBridge,
}

func runBridge(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := cfg.Logger()
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting roombridge")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()
	paths := store.NewPaths(cfg.Store.Root, cfg.Store.Session)

	linkStore := links.NewStore(st, paths, log)
	var linkSvc links.Service = linkStore
	var index *links.Index
	if cfg.Links.Index {
		index = links.NewIndex(linkStore, cfg.Links.Refresh)
		if err := index.Reload(ctx); err != nil {
			return fmt.Errorf("failed to load links: %w", err)
		}
		linkSvc = index
		go refreshIndex(ctx, index, cfg.Links.Refresh, log)
	}

	bridgeCfg, err := cfg.BridgeSettings()
	if err != nil {
		return err
	}
	mm := mattermost.New(&cfg.Mattermost, log)
	br := bridge.New(bridgeCfg, st, paths, linkSvc, mm, log)
	if cfg.Dedup.PersistCursor {
		br.SetCursorStore(dedup.NewCursorStore(st, paths.Cursor(), log))
	}

	if err := mm.Connect(ctx, br); err != nil {
		return err
	}
	if err := br.Start(ctx, cfg.Dedup.SkipHistory); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	adminErr := make(chan error, 1)
	if cfg.Admin.Addr != "" {
		var idx adminapi.LinkIndex
		if index != nil {
			idx = index
		}
		admin := adminapi.New(cfg.Admin.Addr, br, idx, log)
		go func() { adminErr <- admin.ListenAndServe(ctx) }()
	}

	log.Info().
		Str("session", paths.Base()).
		Str("primary_channel", bridgeCfg.PrimaryChannel).
		Str("mirror_channel", bridgeCfg.MirrorChannel).
		Msg("Bridge running")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		return nil
	case err := <-adminErr:
		if err != nil {
			return fmt.Errorf("admin API failed: %w", err)
		}
		<-ctx.Done()
		return nil
	}
}

// refreshIndex reloads the link index on a fixed interval so links created
// or removed on the site side show up without a lookup miss.
func refreshIndex(ctx context.Context, index *links.Index, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := index.Reload(ctx); err != nil {
				log.Warn().Err(err).Msg("Periodic link index reload failed")
			}
		}
	}
}
