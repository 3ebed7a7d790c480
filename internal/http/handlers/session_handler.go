// Form session HTTP handlers.
//
// This file exposes REST endpoints for questionnaire sessions:
//   - POST   /sessions                    (create)
//   - GET    /sessions/{id}               (resume)
//   - PUT    /sessions/{id}/steps/{step}  (save progress)
//   - POST   /sessions/{id}/complete      (score and close)
//   - POST   /sessions/{id}/abandon       (close without result)
//
// Everything but create requires the X-Session-Token returned at creation.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-eligibility-backend/internal/http/middleware"
)

//
// DTOs
//

// CreateSessionRequest opens a questionnaire.
type CreateSessionRequest struct {
	PrincipalID string         `json:"principal_id" example:"patient-42"`
	InitialData map[string]any `json:"initial_data,omitempty"`
	SessionType string         `json:"session_type,omitempty" example:"eligibility_questionnaire"`
}

// SaveProgressRequest holds the answers of one step. Keys are merged into
// what was stored for that step before.
type SaveProgressRequest struct {
	Data map[string]any `json:"data" binding:"required"`
}

// SaveProgressResponse acknowledges a stored step.
type SaveProgressResponse struct {
	Success bool `json:"success" example:"true"`
}

//
// Handlers
//

// CreateSession godoc
// @ID          createSession
// @Summary     Start a questionnaire session
// @Description Returns the session id and a token that must accompany every later call.
// @Description The token is shown once and cannot be recovered.
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       X-Principal-ID  header  string                          false "Principal identifier"
// @Param       body            body    handlers.CreateSessionRequest  true  "Session payload"
//
// @Success     201  {object}  services.CreatedSession
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	pid, okPID := principalID(c, req.PrincipalID)
	if !okPID {
		return
	}

	created, err := h.sessionSvc.Create(c.Request.Context(), pid, req.InitialData, req.SessionType)
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, created)
}

// GetSession godoc
// @ID          getSession
// @Summary     Resume a session
// @Description Returns the stored answers and status. Completed sessions include their result.
// @Tags        Sessions
// @Produce     json
//
// @Param       id               path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       X-Session-Token  header  string  true  "Session token"
//
// @Success     200  {object}  domain.FormSession
// @Failure     401  {object}  handlers.ErrorResponse  "Bad token"
// @Failure     410  {object}  handlers.ErrorResponse  "Session expired or abandoned"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id} [get]
func (h *Handlers) GetSession(c *gin.Context) {
	id, token, okReq := sessionRef(c)
	if !okReq {
		return
	}
	sess, err := h.sessionSvc.Get(c.Request.Context(), id, token)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, sess)
}

// SaveProgress godoc
// @ID          saveProgress
// @Summary     Save the answers of one step
// @Description Merges data into the answers stored for the step, records it as the current step,
// @Description and extends the session expiry.
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       id               path    string                        true  "Session ID (UUID)"  format(uuid)
// @Param       step             path    int                           true  "Step number"        minimum(0) maximum(1000)
// @Param       X-Session-Token  header  string                        true  "Session token"
// @Param       X-Principal-ID   header  string                        false "Principal identifier; must own the session when sent"
// @Param       body             body    handlers.SaveProgressRequest  true  "Step answers"
//
// @Success     200  {object}  handlers.SaveProgressResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Bad token"
// @Failure     410  {object}  handlers.ErrorResponse  "Session expired"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id}/steps/{step} [put]
func (h *Handlers) SaveProgress(c *gin.Context) {
	id, token, okReq := sessionRef(c)
	if !okReq {
		return
	}
	step, err := strconv.Atoi(c.Param("step"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "step must be an integer")
		return
	}

	var req SaveProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "data required")
		return
	}

	if err := h.sessionSvc.SaveProgress(c.Request.Context(), id, token, step, req.Data, middleware.PrincipalFrom(c)); err != nil {
		failService(c, err, ErrCodeSaveFailed)
		return
	}
	ok(c, http.StatusOK, SaveProgressResponse{Success: true})
}

// CompleteSession godoc
// @ID          completeSession
// @Summary     Score the questionnaire and close the session
// @Description Flattens the saved steps into eligibility answers, scores them, and stores the result.
// @Tags        Sessions
// @Produce     json
//
// @Param       id               path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       X-Session-Token  header  string  true  "Session token"
//
// @Success     200  {object}  eligibility.Result
// @Failure     400  {object}  handlers.ErrorResponse  "Answers incomplete or malformed"
// @Failure     401  {object}  handlers.ErrorResponse  "Bad token"
// @Failure     410  {object}  handlers.ErrorResponse  "Session expired"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id}/complete [post]
func (h *Handlers) CompleteSession(c *gin.Context) {
	id, token, okReq := sessionRef(c)
	if !okReq {
		return
	}
	res, err := h.sessionSvc.Complete(c.Request.Context(), id, token)
	if err != nil {
		failService(c, err, ErrCodeSaveFailed)
		return
	}
	ok(c, http.StatusOK, res)
}

// AbandonSession godoc
// @ID          abandonSession
// @Summary     Abandon a session
// @Tags        Sessions
//
// @Param       id               path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       X-Session-Token  header  string  true  "Session token"
//
// @Success     204  "Abandoned"
// @Failure     401  {object}  handlers.ErrorResponse  "Bad token"
// @Failure     410  {object}  handlers.ErrorResponse  "Session already closed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id}/abandon [post]
func (h *Handlers) AbandonSession(c *gin.Context) {
	id, token, okReq := sessionRef(c)
	if !okReq {
		return
	}
	if err := h.sessionSvc.Abandon(c.Request.Context(), id, token); err != nil {
		failService(c, err, ErrCodeSaveFailed)
		return
	}
	noContent(c)
}

// sessionRef validates the session id path param and reads the token header.
func sessionRef(c *gin.Context) (id, token string, okReq bool) {
	id = c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return "", "", false
	}
	token, okReq = sessionToken(c)
	return id, token, okReq
}
