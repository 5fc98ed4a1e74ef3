package resources

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/hubservice"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/ingestion"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

// PayloadHandlers encapsulates the payload ingestion handlers
type PayloadHandlers struct {
	hubservice *hubservice.HubService
}

// @Summary Ingest a raw device payload
// @Description Routes the payload to the decoder registered for the action
// @Tags payloads
// @Accept json
// @Produce json
// @Param action path string true "Decoder action, e.g. dummy-temp"
// @Param uuid query string false "Client supplied payload uuid"
// @Success 200 {object} ingestion.Result
// @Failure 400 {object} errors.APIError
// @Failure 403 {object} errors.APIError
// @Failure 412 {object} errors.APIError
// @Router /payloads/{action} [post]
// @Security BearerAuth
func (h *PayloadHandlers) ProcessPayload(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	var opts ingestion.ProcessOptions
	if err := decodeQuery(r, &opts); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	payload := models.JSON{}
	if err := decodeBody(r, &payload); err != nil {
		respondWithError(w, err, requestID)
		return
	}
	result, err := h.hubservice.ProcessPayload(r.Context(), mux.Vars(r)["action"], payload, opts)
	if err != nil {
		respondWithError(w, err, requestID)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// @Summary List decoder registrations
// @Tags payloads
// @Produce json
// @Success 200 {array} decoder.Registration
// @Router /decoders [get]
func (h *PayloadHandlers) ListDecoders(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.hubservice.Decoders.Registrations())
}
