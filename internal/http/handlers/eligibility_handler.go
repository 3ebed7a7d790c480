package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-eligibility-backend/internal/eligibility"
)

// ScoreEligibility godoc
// @ID          scoreEligibility
// @Summary     Score questionnaire answers
// @Description Stateless evaluation of answers into a score, pathway, estimated cost (minor units)
// @Description and urgency. Nothing is stored.
// @Tags        Eligibility
// @Accept      json
// @Produce     json
//
// @Param       body  body  eligibility.Answers  true  "Answers"
//
// @Success     200  {object}  eligibility.Result
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed answers"
// @Router      /eligibility/score [post]
func (h *Handlers) ScoreEligibility(c *gin.Context) {
	var a eligibility.Answers
	if err := c.ShouldBindJSON(&a); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if err := a.Validate(); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	ok(c, http.StatusOK, h.scorer.Score(a))
}
