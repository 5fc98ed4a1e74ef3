package resources

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/hubservice"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

// AssetHandlers encapsulates the asset-related HTTP handlers
type AssetHandlers struct {
	hubservice *hubservice.HubService
}

type createAssetRequest struct {
	Type      string      `json:"type"`
	Model     string      `json:"model"`
	Reference string      `json:"reference"`
	Metadata  models.JSON `json:"metadata"`
}

type registerMeasuresOptions struct {
	Strict bool `schema:"strict"`
}

// @Summary Create an asset
// @Tags assets
// @Accept json
// @Produce json
// @Param engineId path string true "Engine ID"
// @Success 201 {object} models.Asset
// @Failure 404 {object} errors.APIError
// @Failure 409 {object} errors.APIError
// @Router /engines/{engineId}/assets [post]
// @Security BearerAuth
func (h *AssetHandlers) CreateAsset(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	var req createAssetRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	asset, err := h.hubservice.CreateAsset(r.Context(), mux.Vars(r)["engineId"], req.Type, req.Model, req.Reference, req.Metadata)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusCreated, asset)
}

// @Summary List assets
// @Tags assets
// @Produce json
// @Param engineId path string true "Engine ID"
// @Param type query string false "Asset type"
// @Param model query string false "Asset model"
// @Param from query int false "Offset"
// @Param size query int false "Page size"
// @Success 200 {array} models.Asset
// @Router /engines/{engineId}/assets [get]
func (h *AssetHandlers) ListAssets(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	var filters models.AssetFilters
	if err := decodeQuery(r, &filters); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	assets, err := h.hubservice.ListAssets(r.Context(), mux.Vars(r)["engineId"], filters)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, assets)
}

// @Summary Get an asset
// @Tags assets
// @Produce json
// @Success 200 {object} models.Asset
// @Failure 404 {object} errors.APIError
// @Router /engines/{engineId}/assets/{assetId} [get]
func (h *AssetHandlers) GetAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestID := nuts.NID("req", 12)

	asset, err := h.hubservice.GetAsset(r.Context(), vars["engineId"], vars["assetId"])
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, asset)
}

// @Summary List the devices linked to an asset
// @Tags assets
// @Produce json
// @Success 200 {array} models.Device
// @Router /engines/{engineId}/assets/{assetId}/devices [get]
func (h *AssetHandlers) GetLinkedDevices(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestID := nuts.NID("req", 12)

	devices, err := h.hubservice.GetLinkedDevices(r.Context(), vars["engineId"], vars["assetId"])
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, devices)
}

// @Summary Delete an asset
// @Description Unlinks every device feeding the asset, then deletes it
// @Tags assets
// @Success 204 "No Content"
// @Failure 404 {object} errors.APIError
// @Router /engines/{engineId}/assets/{assetId} [delete]
// @Security BearerAuth
func (h *AssetHandlers) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestID := nuts.NID("req", 12)

	if err := h.hubservice.DeleteAsset(r.Context(), vars["engineId"], vars["assetId"]); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Register measurements on an asset
// @Description Measurements pushed straight at an asset. In strict mode one invalid entry rejects them all.
// @Tags assets
// @Accept json
// @Produce json
// @Param strict query bool false "Reject the batch on any invalid measurement"
// @Success 200 {object} propagation.Result
// @Failure 412 {object} errors.APIError
// @Router /engines/{engineId}/assets/{assetId}/measures [post]
// @Security BearerAuth
func (h *AssetHandlers) RegisterMeasures(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestID := nuts.NID("req", 12)

	var opts registerMeasuresOptions
	if err := decodeQuery(r, &opts); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	var measurements []models.Measurement
	if err := decodeBody(r, &measurements); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	result, err := h.hubservice.Measures.RegisterByAsset(r.Context(), vars["engineId"], vars["assetId"], measurements, opts.Strict)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// @Summary Measurement history of an asset
// @Tags assets
// @Produce json
// @Param from query int false "Offset"
// @Param size query int false "Page size"
// @Success 200 {array} models.Measurement
// @Failure 404 {object} errors.APIError
// @Router /engines/{engineId}/assets/{assetId}/measures [get]
func (h *AssetHandlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestID := nuts.NID("req", 12)

	var page models.Page
	if err := decodeQuery(r, &page); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	history, err := h.hubservice.AssetHistory(r.Context(), vars["engineId"], vars["assetId"], page)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, history)
}
