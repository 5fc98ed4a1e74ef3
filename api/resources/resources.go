// FilePath: server/devicehub/api/resources/resources.go
package resources

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/schema"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/hubservice"
	nuts "github.com/vaudience/go-nuts"
)

// Resources holds all HTTP resource handlers
type Resources struct {
	Devices     *DeviceHandlers
	Engines     *EngineHandlers
	Assets      *AssetHandlers
	Payloads    *PayloadHandlers
	HealthCheck func(w http.ResponseWriter, r *http.Request)
	Metrics     func(w http.ResponseWriter, r *http.Request)
}

// NewResources creates a new Resources instance
func NewResources(svc *hubservice.HubService) *Resources {
	return &Resources{
		Devices:     &DeviceHandlers{hubservice: svc},
		Engines:     &EngineHandlers{hubservice: svc},
		Assets:      &AssetHandlers{hubservice: svc},
		Payloads:    &PayloadHandlers{hubservice: svc},
		HealthCheck: healthCheck,
		Metrics:     func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) },
	}
}

// SetHealthCheck sets the health check handler
func (r *Resources) SetHealthCheck(h func(w http.ResponseWriter, r *http.Request)) {
	r.HealthCheck = h
}

// SetMetrics sets the metrics handler
func (r *Resources) SetMetrics(h func(w http.ResponseWriter, r *http.Request)) {
	r.Metrics = h
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": nuts.GetVersion()})
}

// BackendHealthCheck answers 503 while check fails
func BackendHealthCheck(check func(ctx context.Context) error) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			respondWithError(w, errors.NewUnavailableError("backend unavailable", err), nuts.NID("req", 12))
			return
		}
		healthCheck(w, r)
	}
}

var queryDecoder = newQueryDecoder()

func newQueryDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// decodeQuery fills dst from the request's query parameters
func decodeQuery(r *http.Request, dst interface{}) *errors.APIError {
	if err := queryDecoder.Decode(dst, r.URL.Query()); err != nil {
		return errors.NewValidationError("invalid query parameters", err)
	}
	return nil
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst interface{}) *errors.APIError {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.NewValidationError("invalid request body", err)
	}
	return nil
}

func respondWithError(w http.ResponseWriter, err error, requestID string) {
	apiErr := errors.AsAPIError(err).WithRequestID(requestID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Code)
	json.NewEncoder(w).Encode(apiErr)
	if apiErr.Code >= http.StatusInternalServerError {
		nuts.L.Errorf("[API] %s", apiErr.Error())
	} else {
		nuts.L.Debugf("[API] %s", apiErr.Error())
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
