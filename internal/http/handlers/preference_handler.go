// Preference HTTP handlers.
//
// This file exposes REST endpoints for channel preferences:
//   - GET  /recipients/{id}/preferences   (read; defaults when none stored)
//   - PUT  /recipients/{id}/preferences   (create or replace)
//
// A recipient with no stored preference reads back the defaults (both
// channels enabled, no quiet hours) rather than a 404, because that is the
// effective policy the engine applies.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-notify-backend/internal/domain"
)

// PreferenceRequest is the JSON payload for writing a preference. Quiet
// hours are all-or-nothing: set all three fields or none.
type PreferenceRequest struct {
	EmailEnabled    bool    `json:"email_enabled"`
	SMSEnabled      bool    `json:"sms_enabled"`
	QuietHoursStart *string `json:"quiet_hours_start,omitempty" example:"22:00"`
	QuietHoursEnd   *string `json:"quiet_hours_end,omitempty"   example:"07:00"`
	QuietHoursTz    *string `json:"quiet_hours_tz,omitempty"    example:"Europe/Athens"`
}

// PreferenceResponse is the JSON shape of a preference read.
type PreferenceResponse struct {
	ContactID       string  `json:"contact_id"`
	EmailEnabled    bool    `json:"email_enabled"`
	SMSEnabled      bool    `json:"sms_enabled"`
	QuietHoursStart *string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *string `json:"quiet_hours_end,omitempty"`
	QuietHoursTz    *string `json:"quiet_hours_tz,omitempty"`
}

func preferenceResponse(contactID string, p *domain.ChannelPreference) PreferenceResponse {
	if p == nil {
		// Defaults: both channels enabled, no quiet hours.
		return PreferenceResponse{ContactID: contactID, EmailEnabled: true, SMSEnabled: true}
	}
	return PreferenceResponse{
		ContactID:       contactID,
		EmailEnabled:    p.EmailEnabled,
		SMSEnabled:      p.SMSEnabled,
		QuietHoursStart: p.QuietHoursStart,
		QuietHoursEnd:   p.QuietHoursEnd,
		QuietHoursTz:    p.QuietHoursTz,
	}
}

// GetPreferences godoc
// @ID          getPreferences
// @Summary     Read a recipient's channel preferences
// @Description Returns the stored preference, or the defaults when none is stored.
// @Tags        Preferences
// @Produce     json
//
// @Param       id  path  string  true  "Recipient contact ID"
//
// @Success     200  {object}  handlers.PreferenceResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /recipients/{id}/preferences [get]
func (h *Handlers) GetPreferences(c *gin.Context) {
	contactID := strings.TrimSpace(c.Param("id"))
	if contactID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "contact id required")
		return
	}

	p, err := h.prefSvc.FindByRecipient(c.Request.Context(), contactID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, preferenceResponse(contactID, p))
}

// PutPreferences godoc
// @ID          putPreferences
// @Summary     Create or replace a recipient's channel preferences
// @Description Replaces the full preference record, enforcing the quiet-hours invariant.
// @Tags        Preferences
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Recipient contact ID"
// @Param       body  body  handlers.PreferenceRequest  true  "Preference payload"
//
// @Success     200  {object}  handlers.PreferenceResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid payload or quiet hours"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /recipients/{id}/preferences [put]
func (h *Handlers) PutPreferences(c *gin.Context) {
	contactID := strings.TrimSpace(c.Param("id"))
	if contactID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "contact id required")
		return
	}

	var req PreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	p := &domain.ChannelPreference{
		EmailEnabled:    req.EmailEnabled,
		SMSEnabled:      req.SMSEnabled,
		QuietHoursStart: req.QuietHoursStart,
		QuietHoursEnd:   req.QuietHoursEnd,
		QuietHoursTz:    req.QuietHoursTz,
	}

	saved, err := h.prefSvc.Upsert(c.Request.Context(), contactID, p)
	if err != nil {
		if isPreferenceInvalid(err) {
			fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, preferenceResponse(contactID, saved))
}

// isPreferenceInvalid classifies domain validation failures on writes.
func isPreferenceInvalid(err error) bool {
	return errors.Is(err, domain.ErrPreferenceOwnerRequired) ||
		errors.Is(err, domain.ErrQuietHoursIncomplete) ||
		errors.Is(err, domain.ErrQuietHoursInvalidTime) ||
		errors.Is(err, domain.ErrQuietHoursInvalidZone)
}
