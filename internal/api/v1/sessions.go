package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/craftastic-dev/orchestrator/internal/db/repositories"
	"github.com/craftastic-dev/orchestrator/internal/errs"
	"github.com/craftastic-dev/orchestrator/internal/runtime"
	"github.com/craftastic-dev/orchestrator/pkg/models"
)

func (h *APIHandlers) registerSessionRoutes(group *gin.RouterGroup) {
	group.POST("", h.createSession)
	group.GET("/environment/:env_id", h.listSessionsByEnvironment)
	group.GET("/check-name/:env/:name", h.checkSessionName)
	group.GET("/check-branch/:env/:branch", h.checkSessionBranch)
	group.GET("/:id/status", h.getSessionStatus)
	group.GET("/:id", h.getSession)
	group.DELETE("/:id", h.deleteSession)
}

func (h *APIHandlers) createSession(c *gin.Context) {
	var req struct {
		EnvironmentID    string  `json:"environment_id" binding:"required"`
		Name             string  `json:"name"`
		Branch           string  `json:"branch"`
		WorkingDirectory string  `json:"working_directory"`
		SessionType      string  `json:"session_type"`
		AgentID          *string `json:"agent_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Internal", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	env, err := h.repos.Environments.GetByID(ctx, req.EnvironmentID)
	if err != nil {
		jsonError(c, err)
		return
	}
	if env.Status == models.EnvironmentStatusError {
		jsonError(c, errs.New(errs.RepoUnavailable, "environment is in error state"))
		return
	}

	name := req.Name
	if name == "" {
		name = req.Branch
	}
	branch := req.Branch
	if branch == "" {
		branch = env.DefaultBranch
	}

	var gitBranch *string
	if branch != "" {
		gitBranch = &branch
	}

	sessionType := models.SessionType(req.SessionType)
	session, err := h.repos.Sessions.Create(ctx, repositories.CreateSessionParams{
		EnvironmentID:    req.EnvironmentID,
		Name:             name,
		WorkingDirectory: req.WorkingDirectory,
		GitBranch:        gitBranch,
		SessionType:      sessionType,
		AgentID:          req.AgentID,
	})
	if err != nil {
		jsonError(c, err)
		return
	}

	// Run C4 to quiescence before responding, per spec.md §2's control flow:
	// the session row returned to the client must already have a running,
	// worktree-correct container, not just a Store row. EnsureSessionContainer
	// marks the session dead and returns an error on any failure.
	if _, err := h.reconciler.EnsureSessionContainer(ctx, session.ID); err != nil {
		jsonError(c, err)
		return
	}

	session, err = h.repos.Sessions.GetByID(ctx, session.ID)
	if err != nil {
		jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": session})
}

func (h *APIHandlers) listSessionsByEnvironment(c *gin.Context) {
	sessions, err := h.repos.Sessions.ListByEnvironment(c.Request.Context(), c.Param("env_id"))
	if err != nil {
		jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"sessions": sessions}})
}

func (h *APIHandlers) getSession(c *gin.Context) {
	session, err := h.repos.Sessions.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": session})
}

// getSessionStatus reports the Store's view of status, plus whether it was
// corroborated against Runtime just now (is_realtime) — a live
// ContainerGone/stopped observation marks the session dead before reporting,
// matching the "Dead container recovery" scenario's intent that a stale
// Store status never gets reported as active (spec.md §8 scenario 3).
func (h *APIHandlers) getSessionStatus(c *gin.Context) {
	ctx := c.Request.Context()
	session, err := h.repos.Sessions.GetByID(ctx, c.Param("id"))
	if err != nil {
		jsonError(c, err)
		return
	}

	isRealtime := false
	status := session.Status
	if session.ContainerID != nil {
		info, err := h.containers.Inspect(ctx, *session.ContainerID)
		if err == nil {
			isRealtime = true
			if info == nil || info.State != runtime.ContainerRunning {
				status = models.SessionStatusDead
				_ = h.repos.Sessions.SetDead(ctx, session.ID)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"session_id":  session.ID,
		"status":      status,
		"is_realtime": isRealtime,
		"checked_at":  time.Now().UTC(),
	}})
}

func (h *APIHandlers) checkSessionName(c *gin.Context) {
	envID, name := c.Param("env"), c.Param("name")
	available, suggestions, err := h.repos.Sessions.CheckName(c.Request.Context(), envID, name)
	if err != nil {
		jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"available":   available,
		"name":        name,
		"suggestions": suggestions,
	}})
}

func (h *APIHandlers) checkSessionBranch(c *gin.Context) {
	envID, branch := c.Param("env"), c.Param("branch")
	available, err := h.repos.Sessions.CheckBranch(c.Request.Context(), envID, branch)
	if err != nil {
		jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"available": available,
		"branch":    branch,
	}})
}

func (h *APIHandlers) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.repos.Sessions.GetByID(c.Request.Context(), id); err != nil {
		jsonError(c, err)
		return
	}
	if err := h.reconciler.CleanupSession(c.Request.Context(), id); err != nil {
		jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
