// Package assets is the read and write path the API uses for equipment and
// service records. Reads go to the remote store when it is reachable and
// fall back to the local snapshot; writes go to the remote store directly or
// through the offline queue.
package assets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/care-assets/internal/cache"
	"github.com/ukydev/care-assets/internal/db"
	"github.com/ukydev/care-assets/internal/models"
	"github.com/ukydev/care-assets/internal/outbox"
	"github.com/ukydev/care-assets/internal/schedule"
	"github.com/ukydev/care-assets/internal/syncerr"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrInvalidAsset  = errors.New("invalid asset")
	ErrInvalidRecord = errors.New("invalid service record")
	ErrAssetRetired  = errors.New("asset is retired")
	ErrAssetExists   = errors.New("asset already exists")
	// ErrOffline is returned by reads that have no local fallback.
	ErrOffline = errors.New("remote store unavailable")
)

// Connectivity is the view of the connectivity monitor the service needs.
type Connectivity interface {
	Online() bool
	SetOnline(online bool)
}

// Service implements asset reads and writes.
type Service struct {
	remote db.RemoteStore
	queue  *outbox.Queue
	cache  *cache.AssetCache
	conn   Connectivity
	clock  schedule.Clock
}

// NewService wires the service. A nil clock uses time.Now.
func NewService(remote db.RemoteStore, queue *outbox.Queue, c *cache.AssetCache, conn Connectivity, clock schedule.Clock) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{remote: remote, queue: queue, cache: c, conn: conn, clock: clock}
}

func (s *Service) today() time.Time {
	return schedule.Today(s.clock)
}

// List returns assets matching filter with service status derived for today.
// The full list from the remote store replaces the local snapshot; when the
// store cannot be reached the snapshot is filtered instead.
func (s *Service) List(ctx context.Context, filter Filter) ([]models.Asset, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	today := s.today()
	out := make([]models.Asset, 0, len(all))
	for _, a := range all {
		a.Derive(today)
		if filter.Match(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Get returns one asset by id.
func (s *Service) Get(ctx context.Context, id string) (models.Asset, error) {
	if s.conn.Online() {
		var a models.Asset
		err := s.remote.Get(ctx, models.AssetsCollection, id, &a)
		switch {
		case err == nil:
			a.Derive(s.today())
			return a, nil
		case errors.Is(err, db.ErrNotFound):
			return models.Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
		case syncerr.IsPermanent(err):
			return models.Asset{}, err
		default:
			s.wentOffline(err)
		}
	}
	return s.findCached(ctx, func(a models.Asset) bool { return a.ID == id }, id)
}

// FindByQRCode resolves a scanned label to its asset.
func (s *Service) FindByQRCode(ctx context.Context, code string) (models.Asset, error) {
	if code == "" {
		return models.Asset{}, fmt.Errorf("%w: empty QR code", ErrAssetNotFound)
	}
	if s.conn.Online() {
		var found []models.Asset
		err := s.remote.List(ctx, models.AssetsCollection, bson.M{"qr_code": code}, &found)
		switch {
		case err == nil:
			if len(found) == 0 {
				return models.Asset{}, fmt.Errorf("%w: qr %s", ErrAssetNotFound, code)
			}
			found[0].Derive(s.today())
			return found[0], nil
		case syncerr.IsPermanent(err):
			return models.Asset{}, err
		default:
			s.wentOffline(err)
		}
	}
	return s.findCached(ctx, func(a models.Asset) bool { return a.QRCode == code }, "qr "+code)
}

// ServiceHistory lists an asset's service records, newest first. Records are
// not cached locally, so it needs the remote store.
func (s *Service) ServiceHistory(ctx context.Context, assetID string) ([]models.ServiceRecord, error) {
	if !s.conn.Online() {
		return nil, ErrOffline
	}
	var records []models.ServiceRecord
	err := s.remote.List(ctx, models.ServiceRecordsCollection, bson.M{"asset_id": assetID}, &records)
	if err != nil {
		if !syncerr.IsPermanent(err) {
			s.wentOffline(err)
			return nil, fmt.Errorf("%w: %v", ErrOffline, err)
		}
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ServiceDate.After(records[j].ServiceDate)
	})
	if records == nil {
		records = []models.ServiceRecord{}
	}
	return records, nil
}

// Watch subscribes to the asset collection. Every push refreshes the local
// snapshot and is handed to onChange with service status derived.
func (s *Service) Watch(ctx context.Context, onChange func([]models.Asset)) (func(), error) {
	return s.remote.Subscribe(ctx, models.AssetsCollection, bson.M{}, func(docs []bson.Raw) {
		list := make([]models.Asset, 0, len(docs))
		for _, raw := range docs {
			var a models.Asset
			if err := bson.Unmarshal(raw, &a); err != nil {
				log.WithError(err).Warn("Skipping undecodable asset from subscription")
				continue
			}
			list = append(list, a)
		}
		if err := s.cache.SaveCached(ctx, list); err != nil {
			log.WithError(err).Warn("Failed to refresh asset cache")
		}
		models.DeriveAll(list, s.today())
		onChange(list)
	})
}

// all loads the full asset list, refreshing the snapshot on success.
func (s *Service) all(ctx context.Context) ([]models.Asset, error) {
	if s.conn.Online() {
		var list []models.Asset
		err := s.remote.List(ctx, models.AssetsCollection, bson.M{}, &list)
		if err == nil {
			if err := s.cache.SaveCached(ctx, list); err != nil {
				log.WithError(err).Warn("Failed to refresh asset cache")
			}
			if list == nil {
				list = []models.Asset{}
			}
			return list, nil
		}
		if syncerr.IsPermanent(err) {
			return nil, err
		}
		s.wentOffline(err)
	}
	return s.cache.LoadCached(ctx), nil
}

func (s *Service) findCached(ctx context.Context, match func(models.Asset) bool, what string) (models.Asset, error) {
	for _, a := range s.cache.LoadCached(ctx) {
		if match(a) {
			a.Derive(s.today())
			return a, nil
		}
	}
	return models.Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, what)
}

func (s *Service) wentOffline(err error) {
	log.WithError(err).Warn("Remote store call failed, using local data")
	s.conn.SetOnline(false)
}
