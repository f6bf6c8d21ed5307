// Copyright 2024-2026 Aiku AI

package links

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aiku/roombridge/pkg/records"
	"github.com/aiku/roombridge/pkg/store"
)

// Index caches links by site ID and by chat ID in front of a Store. It is
// rebuilt by Reload, kept current by Redeem and Unlink, reloaded when older
// than the refresh interval, and reloaded immediately when a cached hit no
// longer matches the stored record.
//
// Redeem and Unlink always go through the scanning Store so the uniqueness
// checks never depend on cached state.
type Index struct {
	links   *Store
	refresh time.Duration

	mu       sync.RWMutex
	bySite   map[string]*records.Link
	byChat   map[string]*records.Link
	loadedAt time.Time
}

var _ Service = (*Index)(nil)

// NewIndex creates an empty index. Call Reload before use; until then every
// lookup triggers a load.
func NewIndex(links *Store, refresh time.Duration) *Index {
	return &Index{
		links:   links,
		refresh: refresh,
		bySite:  make(map[string]*records.Link),
		byChat:  make(map[string]*records.Link),
	}
}

// Reload rebuilds both maps from the store.
func (ix *Index) Reload(ctx context.Context) error {
	all, err := ix.links.All(ctx)
	if err != nil {
		return err
	}
	bySite := make(map[string]*records.Link, len(all))
	byChat := make(map[string]*records.Link, len(all))
	for _, link := range all {
		bySite[link.SiteUserID] = link
		if prev, ok := byChat[link.ChatUserID]; ok {
			ix.links.log.Warn().
				Str("chat_user_id", link.ChatUserID).
				Str("site_user_id", link.SiteUserID).
				Str("other_site_user_id", prev.SiteUserID).
				Msg("Chat account linked to more than one site account")
		}
		byChat[link.ChatUserID] = link
	}

	ix.mu.Lock()
	ix.bySite = bySite
	ix.byChat = byChat
	ix.loadedAt = ix.links.now()
	ix.mu.Unlock()

	ix.links.log.Debug().Int("count", len(all)).Msg("Link index reloaded")
	return nil
}

// Size returns the number of cached links.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.bySite)
}

func (ix *Index) ensureFresh(ctx context.Context) error {
	ix.mu.RLock()
	stale := ix.loadedAt.IsZero() || (ix.refresh > 0 && ix.links.now().Sub(ix.loadedAt) > ix.refresh)
	ix.mu.RUnlock()
	if !stale {
		return nil
	}
	return ix.Reload(ctx)
}

// ResolveBySiteID looks up siteUserID in the cache.
func (ix *Index) ResolveBySiteID(ctx context.Context, siteUserID string) (*records.Link, error) {
	if siteUserID == "" {
		return nil, nil
	}
	if err := ix.ensureFresh(ctx); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	link := ix.bySite[siteUserID]
	ix.mu.RUnlock()
	if link == nil {
		return nil, nil
	}
	return ix.verify(ctx, link, func() (*records.Link, error) {
		return ix.links.ResolveBySiteID(ctx, siteUserID)
	})
}

// ResolveByChatID looks up chatUserID in the cache.
func (ix *Index) ResolveByChatID(ctx context.Context, chatUserID string) (*records.Link, error) {
	if chatUserID == "" {
		return nil, nil
	}
	if err := ix.ensureFresh(ctx); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	link := ix.byChat[chatUserID]
	ix.mu.RUnlock()
	if link == nil {
		return nil, nil
	}
	return ix.verify(ctx, link, func() (*records.Link, error) {
		return ix.links.ResolveByChatID(ctx, chatUserID)
	})
}

// verify re-reads the cached link's record. On drift it reloads the whole
// index and answers with a fresh scan.
func (ix *Index) verify(ctx context.Context, cached *records.Link, rescan func() (*records.Link, error)) (*records.Link, error) {
	var current records.Link
	err := store.GetJSON(ctx, ix.links.st, ix.links.paths.Link(cached.SiteUserID), &current)
	if err == nil && current.ChatUserID == cached.ChatUserID && current.SiteUserID == cached.SiteUserID {
		return cached, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to verify cached link: %w", err)
	}
	ix.links.log.Info().
		Str("site_user_id", cached.SiteUserID).
		Msg("Link index drift detected, reloading")
	if err := ix.Reload(ctx); err != nil {
		return nil, err
	}
	return rescan()
}

// Redeem redeems through the store and caches the new link.
func (ix *Index) Redeem(ctx context.Context, code string, who ChatIdentity) (*records.Link, error) {
	link, err := ix.links.Redeem(ctx, code, who)
	if err != nil {
		return nil, err
	}
	ix.mu.Lock()
	if prev, ok := ix.bySite[link.SiteUserID]; ok {
		delete(ix.byChat, prev.ChatUserID)
	}
	ix.bySite[link.SiteUserID] = link
	ix.byChat[link.ChatUserID] = link
	ix.mu.Unlock()
	return link, nil
}

// Unlink unlinks through the store and evicts the link.
func (ix *Index) Unlink(ctx context.Context, chatUserID string) (*records.Link, error) {
	link, err := ix.links.Unlink(ctx, chatUserID)
	if err != nil {
		return nil, err
	}
	ix.mu.Lock()
	delete(ix.bySite, link.SiteUserID)
	delete(ix.byChat, link.ChatUserID)
	ix.mu.Unlock()
	return link, nil
}
