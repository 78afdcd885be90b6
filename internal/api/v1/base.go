// Package v1 implements the HTTP JSON API of spec.md §6: environment and
// session CRUD plus the reconcile-triggering status/attach endpoints, gin
// route groups following the teacher's internal/api/v1/base.go
// APIHandlers/RegisterRoutes shape.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/craftastic-dev/orchestrator/internal/auth"
	"github.com/craftastic-dev/orchestrator/internal/db/repositories"
	"github.com/craftastic-dev/orchestrator/internal/errs"
	"github.com/craftastic-dev/orchestrator/internal/runtime"
	"github.com/craftastic-dev/orchestrator/internal/swc"
)

type APIHandlers struct {
	repos      *repositories.Repositories
	reconciler *swc.Reconciler
	containers *runtime.Manager
	middleware *auth.Middleware
}

func NewAPIHandlers(repos *repositories.Repositories, reconciler *swc.Reconciler, containers *runtime.Manager, middleware *auth.Middleware) *APIHandlers {
	return &APIHandlers{repos: repos, reconciler: reconciler, containers: containers, middleware: middleware}
}

// RegisterRoutes wires every mutating/reading route behind bearer auth, per
// spec.md §6's "all mutating endpoints require a bearer access token" (the
// GET routes are gated too — there is no public read surface in this
// domain, unlike the teacher's public UI routes).
func (h *APIHandlers) RegisterRoutes(group *gin.RouterGroup) {
	group.Use(h.middleware.RequireAuth())

	environments := group.Group("/environments")
	h.registerEnvironmentRoutes(environments)

	sessions := group.Group("/sessions")
	h.registerSessionRoutes(sessions)
}

// jsonError writes the {success:false, error, details?, existingSession?}
// envelope, mapping each errs.Kind to its HTTP status. existingSession is
// the conflicting row carried by NameInUse/BranchInUse; no suggestions
// field is written on errors.
func jsonError(c *gin.Context, err error) {
	kind, status, details := classify(err)
	body := gin.H{"success": false, "error": string(kind)}
	if details != "" {
		body["details"] = details
	}
	if e, ok := err.(*errs.Error); ok && e.Existing != nil {
		body["existingSession"] = e.Existing
	}
	c.JSON(status, body)
}

func classify(err error) (errs.Kind, int, string) {
	e, ok := err.(*errs.Error)
	if !ok {
		return errs.Internal, http.StatusInternalServerError, err.Error()
	}

	status := http.StatusInternalServerError
	switch e.Kind {
	case errs.Unauthenticated:
		status = http.StatusUnauthorized
	case errs.AccessDenied:
		status = http.StatusForbidden
	case errs.NotFound:
		status = http.StatusNotFound
	case errs.NameInUse, errs.BranchInUse:
		status = http.StatusConflict
	case errs.ImageMissing, errs.BranchNotFoundAndNoDefault:
		status = http.StatusBadRequest
	case errs.RepoUnavailable, errs.MountMissing, errs.MountReadOnly, errs.MountPermissionDenied,
		errs.GitFailure, errs.ContainerCreateFailed, errs.ContainerGone, errs.RuntimeFailure,
		errs.StoreConflict, errs.NetworkTimeout, errs.Internal:
		status = http.StatusInternalServerError
	}
	return e.Kind, status, e.Message
}
