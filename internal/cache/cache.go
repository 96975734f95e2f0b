// Package cache keeps the last known asset list on the device so it can be
// shown before the remote store answers.
package cache

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/care-assets/internal/localstore"
	"github.com/ukydev/care-assets/internal/models"
	"github.com/ukydev/care-assets/internal/syncerr"
)

type snapshot struct {
	Assets []models.Asset `bson:"assets"`
}

// AssetCache is a last-write-wins snapshot of the full asset list. It is
// never merged with queued mutations.
type AssetCache struct {
	store localstore.Store
}

// New creates a cache on top of store.
func New(store localstore.Store) *AssetCache {
	return &AssetCache{store: store}
}

// LoadCached returns the cached snapshot, or an empty list when there is
// none or it cannot be read. A corrupt snapshot is removed.
func (c *AssetCache) LoadCached(ctx context.Context) []models.Asset {
	raw, ok, err := c.store.Get(ctx, localstore.KeyCachedAssets)
	if err != nil {
		log.WithError(err).Warn("Failed to read cached assets")
		return []models.Asset{}
	}
	if !ok || raw == "" {
		return []models.Asset{}
	}

	var snap snapshot
	if err := localstore.Decode(raw, &snap); err != nil {
		corrupt := &syncerr.CorruptCacheError{Key: localstore.KeyCachedAssets, Err: err}
		log.WithError(corrupt).Warn("Discarding corrupt asset cache")
		if err := c.store.Remove(ctx, localstore.KeyCachedAssets); err != nil {
			log.WithError(err).Warn("Failed to remove corrupt asset cache")
		}
		return []models.Asset{}
	}
	if snap.Assets == nil {
		return []models.Asset{}
	}
	return snap.Assets
}

// SaveCached replaces the snapshot with assets.
func (c *AssetCache) SaveCached(ctx context.Context, assets []models.Asset) error {
	if assets == nil {
		assets = []models.Asset{}
	}
	raw, err := localstore.Encode(snapshot{Assets: assets})
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, localstore.KeyCachedAssets, raw); err != nil {
		return err
	}
	log.WithField("assets", len(assets)).Debug("Saved asset cache")
	return nil
}
