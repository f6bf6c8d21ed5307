// Copyright 2024-2026 Aiku AI

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aiku/roombridge/pkg/config"
	"github.com/aiku/roombridge/pkg/links"
	"github.com/aiku/roombridge/pkg/store"
)

var (
	mintUser  string
	mintName  string
	mintColor string
	mintTTL   time.Duration
)

var mintCodeCmd = &cobra.Command{
	Use:   "mint-code",
	Short: "Create a link code for a site account, as the site would",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log := cfg.Logger()
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store, log)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		ttl := mintTTL
		if ttl <= 0 {
			ttl = cfg.Links.CodeTTL
		}
		color := mintColor
		if color == "" {
			color = cfg.Bridge.DefaultColor
		}
		paths := store.NewPaths(cfg.Store.Root, cfg.Store.Session)
		code, err := links.NewStore(st, paths, log).Mint(ctx, mintUser, mintName, color, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), code)
		return nil
	},
}

func init() {
	mintCodeCmd.Flags().StringVar(&mintUser, "user", "", "site user ID")
	mintCodeCmd.Flags().StringVar(&mintName, "name", "", "site display name")
	mintCodeCmd.Flags().StringVar(&mintColor, "color", "", "site name color (defaults to bridge.default_color)")
	mintCodeCmd.Flags().DurationVar(&mintTTL, "ttl", 0, "code lifetime (defaults to links.code_ttl)")
	_ = mintCodeCmd.MarkFlagRequired("user")
	_ = mintCodeCmd.MarkFlagRequired("name")
}
