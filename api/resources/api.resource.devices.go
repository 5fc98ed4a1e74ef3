package resources

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/hubservice"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/linking"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

// DeviceHandlers encapsulates the device-related HTTP handlers
type DeviceHandlers struct {
	hubservice *hubservice.HubService
}

type createDeviceRequest struct {
	Model     string      `json:"model"`
	Reference string      `json:"reference"`
	Metadata  models.JSON `json:"metadata"`
}

// linkResponse is returned by the asset link operations
type linkResponse struct {
	Device *models.Device `json:"device"`
	Asset  *models.Asset  `json:"asset,omitempty"`
}

// @Summary Create a device
// @Description Provision a device explicitly, without waiting for its first payload
// @Tags devices
// @Accept json
// @Produce json
// @Success 201 {object} models.Device
// @Failure 400 {object} errors.APIError
// @Failure 409 {object} errors.APIError
// @Router /devices [post]
// @Security BearerAuth
func (h *DeviceHandlers) CreateDevice(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	var req createDeviceRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	device, err := h.hubservice.CreateDevice(r.Context(), req.Model, req.Reference, req.Metadata)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusCreated, device)
}

// @Summary Get a device
// @Tags devices
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} models.Device
// @Failure 404 {object} errors.APIError
// @Router /devices/{id} [get]
func (h *DeviceHandlers) GetDevice(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	device, err := h.hubservice.GetDevice(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, device)
}

// @Summary Attach a device to an engine
// @Tags devices
// @Produce json
// @Param id path string true "Device ID"
// @Param engineId path string true "Engine ID"
// @Param strict query bool false "Fail when the device is already attached to this engine"
// @Success 200 {object} models.Device
// @Failure 404 {object} errors.APIError
// @Failure 409 {object} errors.APIError
// @Router /devices/{id}/engine/{engineId} [put]
// @Security BearerAuth
func (h *DeviceHandlers) AttachEngine(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestID := nuts.NID("req", 12)

	var opts linking.Options
	if err := decodeQuery(r, &opts); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	device, err := h.hubservice.Links.AttachEngine(r.Context(), vars["id"], vars["engineId"], opts)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, device)
}

// @Summary Detach a device from its engine
// @Tags devices
// @Produce json
// @Param id path string true "Device ID"
// @Param strict query bool false "Fail when the device is not attached"
// @Success 200 {object} models.Device
// @Failure 409 {object} errors.APIError
// @Router /devices/{id}/engine [delete]
// @Security BearerAuth
func (h *DeviceHandlers) DetachEngine(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	var opts linking.Options
	if err := decodeQuery(r, &opts); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	device, err := h.hubservice.Links.DetachEngine(r.Context(), mux.Vars(r)["id"], opts)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, device)
}

// @Summary Link a device to an asset
// @Description The body optionally maps device measure names to asset measure names
// @Tags devices
// @Accept json
// @Produce json
// @Param id path string true "Device ID"
// @Param assetId path string true "Asset ID"
// @Param strict query bool false "Fail when the device is already linked to this asset"
// @Success 200 {object} linkResponse
// @Failure 409 {object} errors.APIError
// @Failure 412 {object} errors.APIError
// @Router /devices/{id}/asset/{assetId} [put]
// @Security BearerAuth
func (h *DeviceHandlers) LinkAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestID := nuts.NID("req", 12)

	var opts linking.Options
	if err := decodeQuery(r, &opts); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	var measureNameMap map[string]string
	if err := decodeBody(r, &measureNameMap); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	device, asset, err := h.hubservice.Links.LinkAsset(r.Context(), vars["id"], vars["assetId"], measureNameMap, opts)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, linkResponse{Device: device, Asset: asset})
}

// @Summary Unlink a device from its asset
// @Tags devices
// @Produce json
// @Param id path string true "Device ID"
// @Param strict query bool false "Fail when the device is not linked"
// @Success 200 {object} linkResponse
// @Router /devices/{id}/asset [delete]
// @Security BearerAuth
func (h *DeviceHandlers) UnlinkAsset(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	var opts linking.Options
	if err := decodeQuery(r, &opts); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	device, asset, err := h.hubservice.Links.UnlinkAsset(r.Context(), mux.Vars(r)["id"], opts)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, linkResponse{Device: device, Asset: asset})
}
