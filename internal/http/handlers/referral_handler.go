// Referral HTTP handlers.
//
//   - POST   /sessions/{id}/referral  (issue, requires X-Session-Token)
//   - POST   /referrals/redeem        (redeem; the code is the capability)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RedeemReferralRequest carries a code read off a referral letter.
type RedeemReferralRequest struct {
	Code string `json:"code" binding:"required" example:"K7MX2QPA"`
}

// IssueReferral godoc
// @ID          issueReferralCode
// @Summary     Issue a GP referral code for a completed session
// @Description Only sessions whose pathway requires a physician qualify. Calling again while a
// @Description code is still active returns that code.
// @Tags        Referrals
// @Produce     json
//
// @Param       id               path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       X-Session-Token  header  string  true  "Session token"
//
// @Success     201  {object}  services.IssuedReferral
// @Failure     401  {object}  handlers.ErrorResponse  "Bad token"
// @Failure     409  {object}  handlers.ErrorResponse  "Session does not qualify"
// @Failure     410  {object}  handlers.ErrorResponse  "Session expired"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id}/referral [post]
func (h *Handlers) IssueReferral(c *gin.Context) {
	ctx := c.Request.Context()
	id, token, okReq := sessionRef(c)
	if !okReq {
		return
	}
	if _, err := h.sessionSvc.Get(ctx, id, token); err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}

	ref, err := h.referralSvc.Issue(ctx, id)
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, ref)
}

// RedeemReferral godoc
// @ID          redeemReferralCode
// @Summary     Redeem a referral code
// @Description Returns the session's eligibility summary without contact details. Codes are
// @Description case-insensitive.
// @Tags        Referrals
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.RedeemReferralRequest  true  "Referral code"
//
// @Success     200  {object}  services.Redemption
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown code"
// @Failure     410  {object}  handlers.ErrorResponse  "Code expired"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /referrals/redeem [post]
func (h *Handlers) RedeemReferral(c *gin.Context) {
	var req RedeemReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code required")
		return
	}
	red, err := h.referralSvc.Redeem(c.Request.Context(), req.Code)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, red)
}
