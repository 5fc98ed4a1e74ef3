package hubservice

import (
	"context"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/bus"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/cleanup"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/decoder"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/engine"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/ingestion"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/linking"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/lock"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/measures"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/propagation"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/reconcile"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/repository"
)

// Deps are the building blocks New wires the services from
type Deps struct {
	Devices      repository.DeviceRepository
	Assets       repository.AssetRepository
	Payloads     repository.PayloadRepository
	History      repository.MeasureRepository
	Engines      *engine.Registry
	Decoders     *decoder.Registry
	MeasureTypes *measures.Registry
	Bus          *bus.Bus
	Locker       lock.Locker
	Reconciler   *reconcile.Reconciler
	Provisioning string
}

// HubService contains all repositories and service-wide dependencies
type HubService struct {
	Devices      repository.DeviceRepository
	Assets       repository.AssetRepository
	Payloads     repository.PayloadRepository
	History      repository.MeasureRepository
	Engines      *engine.Registry
	Decoders     *decoder.Registry
	MeasureTypes *measures.Registry
	Bus          *bus.Bus
	Reconciler   *reconcile.Reconciler

	Links     *linking.LinkService
	Measures  *propagation.MeasureService
	Ingestion *ingestion.PayloadService
	Cleanup   *cleanup.CleanupService
}

// New creates a new HubService instance
func New(d Deps) *HubService {
	svc := &HubService{
		Devices:      d.Devices,
		Assets:       d.Assets,
		Payloads:     d.Payloads,
		History:      d.History,
		Engines:      d.Engines,
		Decoders:     d.Decoders,
		MeasureTypes: d.MeasureTypes,
		Bus:          d.Bus,
		Reconciler:   d.Reconciler,
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocal()
	}
	// a nil *Reconciler must not become a non-nil interface
	var reconciler interface {
		Enqueue(deviceID, staleEngine string)
	}
	if d.Reconciler != nil {
		reconciler = d.Reconciler
	}

	svc.Links = linking.NewLinkService(d.Devices, d.Assets, d.Engines, d.Bus, d.Locker, reconciler)
	svc.Measures = propagation.NewMeasureService(d.Devices, d.Assets, d.History, d.Bus, d.Locker, reconciler)
	svc.Ingestion = ingestion.NewPayloadService(d.Devices, d.Payloads, svc.Measures, d.Bus, d.Locker, reconciler, d.Provisioning)
	svc.Cleanup = cleanup.New(d.Assets, svc.Links, d.Locker, d.Bus)
	return svc
}

// Validate checks if all required repositories are initialized
func (s *HubService) Validate() error {
	if s.Devices == nil {
		return ErrMissingRepository("devices")
	}
	if s.Assets == nil {
		return ErrMissingRepository("assets")
	}
	if s.Payloads == nil {
		return ErrMissingRepository("payloads")
	}
	if s.History == nil {
		return ErrMissingRepository("history")
	}
	if s.Engines == nil {
		return ErrMissingRepository("engines")
	}
	if s.Decoders == nil {
		return ErrMissingRepository("decoders")
	}
	if s.Bus == nil {
		return errors.NewInternalError("missing bus", nil)
	}
	return nil
}

func ErrMissingRepository(name string) error {
	return errors.NewInternalError("missing repository: "+name, nil)
}

type rolesKey struct{}

// WithUserRoles returns ctx carrying the roles of the authenticated caller
func WithUserRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey{}, roles)
}

// GetUserRoles retrieves user roles from context. ok is false for
// unauthenticated calls.
func GetUserRoles(ctx context.Context) (roles []string, ok bool) {
	roles, ok = ctx.Value(rolesKey{}).([]string)
	return roles, ok
}
