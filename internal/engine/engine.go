// Package engine keeps the registry of engines (tenants). Each engine owns a
// store index named after its id.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
	nuts "github.com/vaudience/go-nuts"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)

// Registry stores engines in the admin index. Existence checks go through
// an optional cache.
type Registry struct {
	store      store.Store
	adminIndex string
	cache      Cache
}

func NewRegistry(s store.Store, adminIndex string, cache Cache) *Registry {
	return &Registry{store: s, adminIndex: adminIndex, cache: cache}
}

func (r *Registry) Create(ctx context.Context, engine *models.Engine) error {
	if !validID.MatchString(engine.ID) {
		return errors.NewValidationError(fmt.Sprintf("invalid engine id %q", engine.ID), nil)
	}
	if engine.ID == r.adminIndex {
		return errors.NewValidationError("engine id collides with the admin index", nil)
	}
	if engine.CreatedAt.IsZero() {
		engine.CreatedAt = time.Now().UTC()
	}
	body, err := store.Marshal(engine)
	if err != nil {
		return err
	}
	if _, err := r.store.Create(ctx, r.adminIndex, store.CollectionEngines, engine.ID, body); err != nil {
		return err
	}
	r.invalidate(ctx, engine.ID)
	nuts.L.Infof("[EngineRegistry] Created engine %s", engine.ID)
	return nil
}

func (r *Registry) Get(ctx context.Context, id string) (*models.Engine, error) {
	doc, err := r.store.Get(ctx, r.adminIndex, store.CollectionEngines, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewNotFoundError(fmt.Sprintf("engine %q not found", id), err)
		}
		return nil, err
	}
	engine := &models.Engine{}
	if err := store.Unmarshal(doc, engine); err != nil {
		return nil, err
	}
	return engine, nil
}

// Exists is the existence check consumed before attach and link
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	if r.cache != nil {
		if exists, hit := r.cache.Get(ctx, id); hit {
			return exists, nil
		}
	}
	exists, err := r.store.Exists(ctx, r.adminIndex, store.CollectionEngines, id)
	if err != nil {
		return false, err
	}
	if r.cache != nil {
		r.cache.Set(ctx, id, exists)
	}
	return exists, nil
}

func (r *Registry) List(ctx context.Context, from, size int) ([]*models.Engine, error) {
	docs, err := r.store.Search(ctx, r.adminIndex, store.CollectionEngines, store.Query{From: from, Size: size})
	if err != nil {
		return nil, err
	}
	engines := make([]*models.Engine, 0, len(docs))
	for _, doc := range docs {
		engine := &models.Engine{}
		if err := store.Unmarshal(doc, engine); err != nil {
			return nil, err
		}
		engines = append(engines, engine)
	}
	return engines, nil
}

// Delete removes an engine and every document of its index. It is refused
// while devices are attached to it.
func (r *Registry) Delete(ctx context.Context, id string) error {
	attached, err := r.store.Search(ctx, r.adminIndex, store.CollectionDevices, store.Query{
		Equals: map[string]any{"engine_id": id},
		Size:   1,
	})
	if err != nil {
		return err
	}
	if len(attached) > 0 {
		return errors.NewConflictError(fmt.Sprintf("engine %q still has attached devices", id), nil)
	}
	if err := r.store.Delete(ctx, r.adminIndex, store.CollectionEngines, id); err != nil {
		if errors.IsNotFound(err) {
			return errors.NewNotFoundError(fmt.Sprintf("engine %q not found", id), err)
		}
		return err
	}
	r.invalidate(ctx, id)
	dropped, err := r.store.DropIndex(ctx, id)
	if err != nil {
		return err
	}
	nuts.L.Infof("[EngineRegistry] Deleted engine %s and %d tenant documents", id, dropped)
	return nil
}

func (r *Registry) invalidate(ctx context.Context, id string) {
	if r.cache != nil {
		r.cache.Delete(ctx, id)
	}
}
