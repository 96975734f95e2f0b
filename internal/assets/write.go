package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/care-assets/internal/models"
	"github.com/ukydev/care-assets/internal/schedule"
	"github.com/ukydev/care-assets/internal/syncerr"
	"go.mongodb.org/mongo-driver/bson"
)

// WriteResult tells the caller whether a write reached the remote store or
// is waiting in the offline queue.
type WriteResult struct {
	Queued     bool   `json:"queued"`
	MutationID string `json:"mutation_id,omitempty"`
}

// Changes is a partial asset update. Nil fields are left untouched.
type Changes struct {
	Name                 *string               `json:"name,omitempty"`
	Category             *models.AssetCategory `json:"category,omitempty"`
	SerialNumber         *string               `json:"serial_number,omitempty"`
	QRCode               *string               `json:"qr_code,omitempty"`
	Facility             *string               `json:"facility,omitempty"`
	Location             *string               `json:"location,omitempty"`
	AssignedTo           *string               `json:"assigned_to,omitempty"`
	Status               *models.AssetStatus   `json:"status,omitempty"`
	LastServiceDate      *time.Time            `json:"last_service_date,omitempty"`
	ServiceFrequencyDays *int                  `json:"service_frequency_days,omitempty"`
	Notes                *string               `json:"notes,omitempty"`
}

func (c Changes) fields() (bson.M, error) {
	f := bson.M{}
	if c.Name != nil {
		name := strings.TrimSpace(*c.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidAsset)
		}
		f["name"] = name
	}
	if c.Category != nil {
		if !models.IsValidCategory(*c.Category) {
			return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidAsset, *c.Category)
		}
		f["category"] = string(*c.Category)
	}
	if c.Status != nil {
		if !models.IsValidAssetStatus(*c.Status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidAsset, *c.Status)
		}
		if *c.Status == models.AssetRetired {
			return nil, fmt.Errorf("%w: use retire to retire an asset", ErrInvalidAsset)
		}
		f["status"] = string(*c.Status)
	}
	if c.ServiceFrequencyDays != nil {
		if *c.ServiceFrequencyDays <= 0 {
			return nil, fmt.Errorf("%w: service frequency must be positive", ErrInvalidAsset)
		}
		f["service_frequency_days"] = *c.ServiceFrequencyDays
	}
	if c.LastServiceDate != nil {
		f["last_service_date"] = schedule.Day(*c.LastServiceDate)
	}
	for key, v := range map[string]*string{
		"serial_number": c.SerialNumber,
		"qr_code":       c.QRCode,
		"facility":      c.Facility,
		"location":      c.Location,
		"assigned_to":   c.AssignedTo,
		"notes":         c.Notes,
	} {
		if v != nil {
			f[key] = *v
		}
	}
	return f, nil
}

func validateNew(a *models.Asset) error {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAsset)
	}
	if a.Category == "" {
		a.Category = models.CategoryOther
	}
	if !models.IsValidCategory(a.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidAsset, a.Category)
	}
	if a.Status == "" {
		a.Status = models.AssetActive
	}
	if !models.IsValidAssetStatus(a.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidAsset, a.Status)
	}
	if a.ServiceFrequencyDays != nil && *a.ServiceFrequencyDays <= 0 {
		return fmt.Errorf("%w: service frequency must be positive", ErrInvalidAsset)
	}
	return nil
}

// Create validates a new asset, assigns its id and timestamps and writes it.
func (s *Service) Create(ctx context.Context, actor string, a models.Asset) (models.Asset, WriteResult, error) {
	if err := validateNew(&a); err != nil {
		return models.Asset{}, WriteResult{}, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	} else if err := s.checkNew(ctx, a.ID); err != nil {
		return models.Asset{}, WriteResult{}, err
	}
	if a.LastServiceDate != nil {
		day := schedule.Day(*a.LastServiceDate)
		a.LastServiceDate = &day
	}
	now := s.clock().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.UpdatedBy = actor
	a.Derive(s.today())

	doc, err := toDocument(a)
	if err != nil {
		return models.Asset{}, WriteResult{}, err
	}
	res, err := s.write(ctx, models.MutationCreate, models.AssetsCollection, a.ID, doc)
	if err != nil {
		return models.Asset{}, WriteResult{}, err
	}
	log.WithFields(log.Fields{"asset_id": a.ID, "actor": actor, "queued": res.Queued}).Info("Asset created")
	return a, res, nil
}

// Update merges changes into an asset. When the schedule inputs change the
// stored next-due date is recomputed from whichever values are known.
func (s *Service) Update(ctx context.Context, actor, id string, ch Changes) (WriteResult, error) {
	fields, err := ch.fields()
	if err != nil {
		return WriteResult{}, err
	}
	if len(fields) == 0 {
		return WriteResult{}, fmt.Errorf("%w: no changes", ErrInvalidAsset)
	}
	current, err := s.writable(ctx, id)
	if err != nil {
		return WriteResult{}, err
	}
	if ch.LastServiceDate != nil || ch.ServiceFrequencyDays != nil {
		s.scheduleFields(current, ch, fields)
	}
	fields["updated_at"] = s.clock().UTC()
	fields["updated_by"] = actor

	res, err := s.write(ctx, models.MutationUpdate, models.AssetsCollection, id, fields)
	if err != nil {
		return WriteResult{}, err
	}
	log.WithFields(log.Fields{"asset_id": id, "actor": actor, "queued": res.Queued}).Info("Asset updated")
	return res, nil
}

// scheduleFields adds the recomputed next-due date to fields. With no current
// asset both inputs must be in the change.
func (s *Service) scheduleFields(current *models.Asset, ch Changes, fields bson.M) {
	last, freq := ch.LastServiceDate, ch.ServiceFrequencyDays
	if current != nil {
		if last == nil {
			last = current.LastServiceDate
		}
		if freq == nil {
			freq = current.ServiceFrequencyDays
		}
	}
	if next := schedule.NextDue(last, freq); next != nil {
		fields["next_service_due"] = *next
		fields["service_status"] = string(schedule.StatusOf(next, s.today()))
	}
}

// writable returns the current asset and rejects writes to retired ones,
// including assets with a retirement still in the offline queue. An asset
// missing from the local data is accepted, as nil, while offline or when it
// has queued writes; the remote store decides on replay.
func (s *Service) writable(ctx context.Context, id string) (*models.Asset, error) {
	if s.queue.HasPendingKind(models.AssetsCollection, id, models.MutationDelete) {
		return nil, fmt.Errorf("%w: %s", ErrAssetRetired, id)
	}
	a, err := s.Get(ctx, id)
	switch {
	case err == nil:
		if a.Status == models.AssetRetired {
			return nil, fmt.Errorf("%w: %s", ErrAssetRetired, id)
		}
		return &a, nil
	case errors.Is(err, ErrAssetNotFound) && (!s.conn.Online() || s.queue.HasPending(models.AssetsCollection, id)):
		return nil, nil
	default:
		return nil, err
	}
}

// checkNew rejects a create whose caller-supplied id is already taken,
// either in the remote store, the local snapshot or the offline queue.
func (s *Service) checkNew(ctx context.Context, id string) error {
	if s.queue.HasPending(models.AssetsCollection, id) {
		return fmt.Errorf("%w: %s", ErrAssetExists, id)
	}
	_, err := s.Get(ctx, id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrAssetExists, id)
	case errors.Is(err, ErrAssetNotFound):
		return nil
	default:
		return err
	}
}

// Retire marks an asset retired. Assets are never physically deleted.
func (s *Service) Retire(ctx context.Context, actor, id string) (WriteResult, error) {
	res, err := s.write(ctx, models.MutationDelete, models.AssetsCollection, id, nil)
	if err != nil {
		return WriteResult{}, err
	}
	log.WithFields(log.Fields{"asset_id": id, "actor": actor, "queued": res.Queued}).Info("Asset retired")
	return res, nil
}

// Assign hands an asset to a resident, room or staff member and marks it active.
func (s *Service) Assign(ctx context.Context, actor, id, assignee string) (WriteResult, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return WriteResult{}, fmt.Errorf("%w: assignee is required", ErrInvalidAsset)
	}
	status := models.AssetActive
	return s.Update(ctx, actor, id, Changes{AssignedTo: &assignee, Status: &status})
}

// MarkSpare returns an asset to the spare pool.
func (s *Service) MarkSpare(ctx context.Context, actor, id string) (WriteResult, error) {
	status := models.AssetSpare
	none := ""
	return s.Update(ctx, actor, id, Changes{Status: &status, AssignedTo: &none})
}

// MarkOutOfService takes an asset out of use. A non-empty note replaces the
// asset's notes.
func (s *Service) MarkOutOfService(ctx context.Context, actor, id, note string) (WriteResult, error) {
	status := models.AssetOutOfService
	ch := Changes{Status: &status}
	if note = strings.TrimSpace(note); note != "" {
		ch.Notes = &note
	}
	return s.Update(ctx, actor, id, ch)
}

// RecordService writes an immutable service record and advances the asset's
// last service date. The record's next due date is fixed from the asset's
// frequency at this moment.
func (s *Service) RecordService(ctx context.Context, actor, assetID string, rec models.ServiceRecord) (models.ServiceRecord, WriteResult, error) {
	if rec.Type == "" {
		rec.Type = models.ServiceRoutine
	}
	if !models.IsValidServiceType(rec.Type) {
		return models.ServiceRecord{}, WriteResult{}, fmt.Errorf("%w: unknown type %q", ErrInvalidRecord, rec.Type)
	}
	if rec.Cost != nil && *rec.Cost < 0 {
		return models.ServiceRecord{}, WriteResult{}, fmt.Errorf("%w: cost cannot be negative", ErrInvalidRecord)
	}
	current, err := s.writable(ctx, assetID)
	if err != nil {
		return models.ServiceRecord{}, WriteResult{}, err
	}
	if current == nil {
		return models.ServiceRecord{}, WriteResult{}, fmt.Errorf("%w: %s", ErrAssetNotFound, assetID)
	}
	asset := *current

	now := s.clock().UTC()
	if rec.ServiceDate.IsZero() {
		rec.ServiceDate = s.today()
	}
	rec.ServiceDate = schedule.Day(rec.ServiceDate)
	if rec.ServiceDate.After(s.today()) {
		return models.ServiceRecord{}, WriteResult{}, fmt.Errorf("%w: service date is in the future", ErrInvalidRecord)
	}
	rec.ID = uuid.NewString()
	rec.AssetID = assetID
	rec.NextDueDate = schedule.NextDue(&rec.ServiceDate, asset.ServiceFrequencyDays)
	rec.CreatedAt = now
	rec.CreatedBy = actor
	if rec.PerformedBy == "" {
		rec.PerformedBy = actor
	}

	doc, err := toDocument(rec)
	if err != nil {
		return models.ServiceRecord{}, WriteResult{}, err
	}
	res, err := s.write(ctx, models.MutationCreate, models.ServiceRecordsCollection, rec.ID, doc)
	if err != nil {
		return models.ServiceRecord{}, WriteResult{}, err
	}

	// An older record entered late does not move the schedule back.
	if asset.LastServiceDate == nil || rec.ServiceDate.After(*asset.LastServiceDate) {
		date := rec.ServiceDate
		assetRes, err := s.Update(ctx, actor, assetID, Changes{LastServiceDate: &date})
		if err != nil {
			return rec, res, fmt.Errorf("service recorded but asset not updated: %w", err)
		}
		res.Queued = res.Queued || assetRes.Queued
	}

	log.WithFields(log.Fields{
		"asset_id":  assetID,
		"record_id": rec.ID,
		"type":      rec.Type,
		"actor":     actor,
		"queued":    res.Queued,
	}).Info("Service recorded")
	return rec, res, nil
}

// write sends a mutation to the remote store, or queues it when the store
// is unreachable or earlier writes to the same document are still queued.
func (s *Service) write(ctx context.Context, kind models.MutationKind, collection, id string, payload bson.M) (WriteResult, error) {
	if !s.conn.Online() || s.queue.HasPending(collection, id) {
		return s.enqueue(ctx, kind, collection, id, payload)
	}

	var err error
	switch kind {
	case models.MutationCreate:
		err = s.remote.Put(ctx, collection, id, payload)
	case models.MutationUpdate:
		err = s.remote.Update(ctx, collection, id, payload)
	case models.MutationDelete:
		err = s.remote.Delete(ctx, collection, id)
	}
	switch {
	case err == nil:
		return WriteResult{}, nil
	case syncerr.IsPermanent(err):
		return WriteResult{}, err
	default:
		s.wentOffline(err)
		return s.enqueue(ctx, kind, collection, id, payload)
	}
}

func (s *Service) enqueue(ctx context.Context, kind models.MutationKind, collection, id string, payload bson.M) (WriteResult, error) {
	m, err := s.queue.Enqueue(ctx, kind, collection, id, payload)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Queued: true, MutationID: m.ID}, nil
}

func toDocument(v interface{}) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return doc, nil
}
