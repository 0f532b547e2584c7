package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"plantscan/api/internal/models"
)

func (h HandlerSet) GetUser(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newUserResponse(user))
}

type updateUserRequest struct {
	FullName  *string `json:"fullName"`
	AvatarURL *string `json:"avatarUrl"`
}

func (h HandlerSet) UpdateUser(c *gin.Context) {
	var req updateUserRequest
	if !h.bindJSON(c, &req) {
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), c.Param("userId"), models.ProfileUpdate{
		DisplayName: req.FullName,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newUserResponse(user))
}

type avatarRequest struct {
	ContentType string `json:"contentType" binding:"required"`
}

func (h HandlerSet) PresignAvatar(c *gin.Context) {
	var req avatarRequest
	if !h.bindJSON(c, &req) {
		return
	}

	upload, err := h.users.PresignAvatar(c.Request.Context(), c.Param("userId"), req.ContentType)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAvatarUploadResponse(upload))
}
