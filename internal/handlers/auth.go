package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"plantscan/api/internal/service"
)

const resetRequestedMessage = "If an account exists for that email, a reset link has been sent"

type signUpRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"fullName"`
}

func (h HandlerSet) SignUp(c *gin.Context) {
	var req signUpRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.auth.SignUp(c.Request.Context(), service.SignUpInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.FullName,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	sendAuthResponse(c, result)
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h HandlerSet) SignIn(c *gin.Context) {
	var req signInRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	sendAuthResponse(c, result)
}

func (h HandlerSet) SignOut(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	if err := h.auth.SignOut(c.Request.Context(), principal); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Signed out"})
}

func (h HandlerSet) Me(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	user, err := h.users.GetUser(c.Request.Context(), principal.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newUserResponse(user))
}

type resetPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h HandlerSet) RequestPasswordReset(c *gin.Context) {
	var req resetPasswordRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.auth.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": resetRequestedMessage})
}

type confirmResetRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

func (h HandlerSet) ConfirmPasswordReset(c *gin.Context) {
	var req confirmResetRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.auth.ConfirmPasswordReset(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password has been reset"})
}

func sendAuthResponse(c *gin.Context, result service.AuthResult) {
	c.JSON(http.StatusOK, authResponse{
		User:  newUserResponse(result.User),
		Token: result.Token,
	})
}
