package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/craftastic-dev/orchestrator/internal/auth"
	"github.com/craftastic-dev/orchestrator/internal/errs"
	"github.com/craftastic-dev/orchestrator/pkg/models"
)

func (h *APIHandlers) registerEnvironmentRoutes(group *gin.RouterGroup) {
	group.POST("", h.createEnvironment)
	group.GET("/user/:user_id", h.listEnvironmentsByUser)
	group.GET("/check-name/:user_id/:name", h.checkEnvironmentName)
	group.GET("/:id", h.getEnvironment)
	group.DELETE("/:id", h.deleteEnvironment)
}

func (h *APIHandlers) createEnvironment(c *gin.Context) {
	var req struct {
		UserID        string  `json:"user_id" binding:"required"`
		Name          string  `json:"name" binding:"required"`
		RepositoryURL *string `json:"repository_url"`
		Branch        string  `json:"branch"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Internal", "details": err.Error()})
		return
	}

	principal, _ := auth.FromContext(c)
	if principal != nil && principal.UserID != req.UserID {
		jsonError(c, errs.New(errs.AccessDenied, "cannot create an environment for another user"))
		return
	}

	env, err := h.repos.Environments.Create(c.Request.Context(), req.UserID, req.Name, req.RepositoryURL, req.Branch)
	if err != nil {
		jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": env})
}

func (h *APIHandlers) listEnvironmentsByUser(c *gin.Context) {
	userID := c.Param("user_id")
	environments, err := h.repos.Environments.ListByUser(c.Request.Context(), userID)
	if err != nil {
		jsonError(c, err)
		return
	}

	type envWithSessions struct {
		*models.Environment
		Sessions []*models.Session `json:"sessions"`
	}
	result := make([]envWithSessions, 0, len(environments))
	for _, env := range environments {
		sessions, err := h.repos.Sessions.ListByEnvironment(c.Request.Context(), env.ID)
		if err != nil {
			jsonError(c, err)
			return
		}
		result = append(result, envWithSessions{Environment: env, Sessions: sessions})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"environments": result}})
}

func (h *APIHandlers) getEnvironment(c *gin.Context) {
	env, err := h.repos.Environments.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": env})
}

func (h *APIHandlers) checkEnvironmentName(c *gin.Context) {
	userID, name := c.Param("user_id"), c.Param("name")
	available, suggestions, err := h.repos.Environments.CheckName(c.Request.Context(), userID, name)
	if err != nil {
		jsonError(c, err)
		return
	}

	message := "name is available"
	if !available {
		message = "name is already in use"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"available":   available,
		"name":        name,
		"suggestions": suggestions,
		"message":     message,
	}})
}

func (h *APIHandlers) deleteEnvironment(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.repos.Environments.GetByID(c.Request.Context(), id); err != nil {
		jsonError(c, err)
		return
	}

	sessions, err := h.repos.Sessions.ListByEnvironment(c.Request.Context(), id)
	if err != nil {
		jsonError(c, err)
		return
	}
	for _, s := range sessions {
		if err := h.reconciler.CleanupSession(c.Request.Context(), s.ID); err != nil {
			jsonError(c, err)
			return
		}
	}

	if err := h.repos.Environments.Delete(c.Request.Context(), id); err != nil {
		jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
