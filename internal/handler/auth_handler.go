package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
	appErrors "github.com/thethien2906/KnMdiscova-api-sub000/pkg/errors"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/response"
)

// Authenticator is the login surface.
type Authenticator interface {
	Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error)
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth     Authenticator
	validate *validator.Validate
}

// NewAuthHandler builds the handler.
func NewAuthHandler(auth Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth, validate: validator.New()}
}

// Login godoc
// @Summary      Log in
// @Description  Exchanges credentials for a bearer token.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      models.LoginRequest  true  "credentials"
// @Success      200      {object}  response.Envelope{data=models.LoginResponse}
// @Failure      401      {object}  response.Envelope
// @Router       /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, appErrors.ErrValidation.Message))
		return
	}

	result, err := h.auth.Login(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
