package resources

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/hubservice"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

// EngineHandlers encapsulates the engine-related HTTP handlers
type EngineHandlers struct {
	hubservice *hubservice.HubService
}

type createEngineRequest struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

// @Summary Create an engine
// @Tags engines
// @Accept json
// @Produce json
// @Param engineId path string true "Engine ID"
// @Success 201 {object} models.Engine
// @Failure 400 {object} errors.APIError
// @Failure 409 {object} errors.APIError
// @Router /engines/{engineId} [post]
// @Security BearerAuth
func (h *EngineHandlers) CreateEngine(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	var req createEngineRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	engine := &models.Engine{ID: mux.Vars(r)["engineId"], Name: req.Name, Group: req.Group}
	if engine.Name == "" {
		engine.Name = engine.ID
	}
	if err := h.hubservice.Engines.Create(r.Context(), engine); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusCreated, engine)
}

// @Summary Get an engine
// @Tags engines
// @Produce json
// @Param engineId path string true "Engine ID"
// @Success 200 {object} models.Engine
// @Failure 404 {object} errors.APIError
// @Router /engines/{engineId} [get]
func (h *EngineHandlers) GetEngine(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	engine, err := h.hubservice.Engines.Get(r.Context(), mux.Vars(r)["engineId"])
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, engine)
}

// @Summary List engines
// @Tags engines
// @Produce json
// @Param from query int false "Offset"
// @Param size query int false "Page size"
// @Success 200 {array} models.Engine
// @Router /engines [get]
// @Security BearerAuth
func (h *EngineHandlers) ListEngines(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	var page models.Page
	if err := decodeQuery(r, &page); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	engines, err := h.hubservice.ListEngines(r.Context(), page)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, engines)
}

// @Summary Delete an engine
// @Description Deletes the engine with its assets and measurement history. Refused while devices are attached.
// @Tags engines
// @Param engineId path string true "Engine ID"
// @Success 204 "No Content"
// @Failure 404 {object} errors.APIError
// @Failure 409 {object} errors.APIError
// @Router /engines/{engineId} [delete]
// @Security BearerAuth
func (h *EngineHandlers) DeleteEngine(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	if err := h.hubservice.DeleteEngine(r.Context(), mux.Vars(r)["engineId"]); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Measurement history of a device
// @Description Measurements the device produced while attached to the engine, oldest first
// @Tags engines
// @Produce json
// @Param engineId path string true "Engine ID"
// @Param id path string true "Device ID"
// @Param from query int false "Offset"
// @Param size query int false "Page size"
// @Success 200 {array} models.Measurement
// @Failure 404 {object} errors.APIError
// @Router /engines/{engineId}/devices/{id}/measures [get]
func (h *EngineHandlers) DeviceHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestID := nuts.NID("req", 12)

	var page models.Page
	if err := decodeQuery(r, &page); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	history, err := h.hubservice.DeviceHistory(r.Context(), vars["engineId"], vars["id"], page)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, history)
}
