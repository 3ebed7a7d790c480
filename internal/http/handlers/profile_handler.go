// Profile HTTP handlers.
//
// This file exposes REST endpoints for personal data:
//   - PUT    /profiles/{principal_id}   (partial upsert)
//   - GET    /profiles/{principal_id}   (read)
//   - GET    /principals/{id}/export    (data export, ETag support)
//
// All three require "Authorization: Bearer <access_token>" as granted by a
// successful code verification of the same principal.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-eligibility-backend/internal/http/middleware"
	"github.com/tbourn/go-eligibility-backend/internal/services"
)

// dateLayout is the wire format of dates of birth.
const dateLayout = "2006-01-02"

// UpsertProfileRequest is a partial profile update. Omitted fields keep their
// stored value.
type UpsertProfileRequest struct {
	DateOfBirth       *string `json:"date_of_birth,omitempty"      example:"1970-04-12"`
	Phone             *string `json:"phone,omitempty"              example:"+41791234567"`
	Street            *string `json:"street,omitempty"             example:"Bahnhofstrasse 1"`
	PostalCode        *string `json:"postal_code,omitempty"        example:"8001"`
	City              *string `json:"city,omitempty"               example:"Zürich"`
	Canton            *string `json:"canton,omitempty"             example:"ZH"`
	PreferredLanguage *string `json:"preferred_language,omitempty" example:"de-CH"`
}

// UpsertProfile godoc
// @ID          upsertProfile
// @Summary     Create or update a profile
// @Description Only supplied fields are written. Dates of birth must be at least 18 years ago;
// @Description cantons are the 26 Swiss codes; languages are matched to de, fr, it or en.
// @Tags        Profiles
// @Accept      json
// @Produce     json
//
// @Param       principal_id    path    string                          true  "Principal identifier"
// @Param       Authorization   header  string                          true  "Bearer access token from verifyOtp"
// @Param       X-Principal-ID  header  string                          false "Must equal principal_id when sent"
// @Param       body            body    handlers.UpsertProfileRequest  true  "Profile fields"
//
// @Success     200  {object}  domain.UserProfile
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse  "Principal not verified"
// @Failure     403  {object}  handlers.ErrorResponse  "Principal mismatch"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /profiles/{principal_id} [put]
func (h *Handlers) UpsertProfile(c *gin.Context) {
	pid, tok, okAuth := profileCaller(c, "principal_id")
	if !okAuth {
		return
	}

	var req UpsertProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	in := services.ProfileInput{
		Phone:             req.Phone,
		Street:            req.Street,
		PostalCode:        req.PostalCode,
		City:              req.City,
		Canton:            req.Canton,
		PreferredLanguage: req.PreferredLanguage,
	}
	if req.DateOfBirth != nil {
		dob, err := time.Parse(dateLayout, *req.DateOfBirth)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeValidation, "invalid date_of_birth: use YYYY-MM-DD")
			return
		}
		in.DateOfBirth = &dob
	}

	p, err := h.profileSvc.Upsert(c.Request.Context(), pid, tok, in)
	if err != nil {
		failProfile(c, err, ErrCodeSaveFailed)
		return
	}
	ok(c, http.StatusOK, p)
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Read a profile
// @Tags        Profiles
// @Produce     json
//
// @Param       principal_id    path    string  true  "Principal identifier"
// @Param       Authorization   header  string  true  "Bearer access token from verifyOtp"
// @Param       X-Principal-ID  header  string  false "Must equal principal_id when sent"
//
// @Success     200  {object}  domain.UserProfile
// @Failure     401  {object}  handlers.ErrorResponse  "Principal not verified"
// @Failure     403  {object}  handlers.ErrorResponse  "Principal mismatch"
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /profiles/{principal_id} [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	pid, tok, okAuth := profileCaller(c, "principal_id")
	if !okAuth {
		return
	}
	p, err := h.profileSvc.Get(c.Request.Context(), pid, tok)
	if err != nil {
		failProfile(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, p)
}

// ExportPrincipal godoc
// @ID          exportPrincipal
// @Summary     Export all personal data of a principal
// @Description Profile, sessions, challenges (masked contacts only) and referral codes
// @Description (masked, so an export cannot be redeemed). Supports conditional requests via
// @Description ETag / If-None-Match.
// @Tags        Profiles
// @Produce     json
//
// @Param       id              path    string  true  "Principal identifier"
// @Param       Authorization   header  string  true  "Bearer access token from verifyOtp"
// @Param       X-Principal-ID  header  string  false "Must equal id when sent"
// @Param       If-None-Match   header  string  false "ETag from a previous export"
//
// @Success     200  {object}  services.Export
// @Success     304  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Principal not verified"
// @Failure     403  {object}  handlers.ErrorResponse  "Principal mismatch"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /principals/{id}/export [get]
func (h *Handlers) ExportPrincipal(c *gin.Context) {
	ctx := c.Request.Context()
	pid, tok, okAuth := profileCaller(c, "id")
	if !okAuth {
		return
	}
	c.Header("Cache-Control", "private, no-store")

	// ETag pre-check (best effort). The tag is computed only for an
	// authorized caller, so a 304 never confirms data to anyone else.
	etag, err := h.profileSvc.ExportTag(ctx, pid, tok)
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		failProfile(c, err, ErrCodeExportFailed)
		return
	case err == nil && etag != "":
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	exp, err := h.profileSvc.Export(ctx, pid, tok)
	if err != nil {
		failProfile(c, err, ErrCodeExportFailed)
		return
	}
	ok(c, http.StatusOK, exp)
}

// profileCaller resolves the path principal and the bearer token proving it.
func profileCaller(c *gin.Context, param string) (string, string, bool) {
	pid, okPID := pathPrincipal(c, param)
	if !okPID {
		return "", "", false
	}
	token, okTok := bearerToken(c)
	if !okTok {
		return "", "", false
	}
	return pid, token, true
}

// failProfile reports a rejected access token without the session wording of
// failService.
func failProfile(c *gin.Context, err error, fallback string) {
	if errors.Is(err, services.ErrUnauthorized) {
		c.Header("WWW-Authenticate", `Bearer realm="profiles", error="invalid_token"`)
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "principal not verified or access token invalid")
		return
	}
	failService(c, err, fallback)
}

// pathPrincipal reads a principal from the named path param. When the caller
// also identified itself via X-Principal-ID, both must agree.
func pathPrincipal(c *gin.Context, param string) (string, bool) {
	pid := c.Param(param)
	if !middleware.ValidPrincipalID(pid) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed principal id")
		return "", false
	}
	if hdr := middleware.PrincipalFrom(c); hdr != "" && hdr != pid {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "principal mismatch")
		return "", false
	}
	return pid, true
}
