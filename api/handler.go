// Package api exposes the permission engine and the resources it guards over
// HTTP. Every route except health and metrics requires a bearer token whose
// subject becomes the acting user.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/flowstudio/authz/core/audit"
	"github.com/flowstudio/authz/core/rebac"
	"github.com/flowstudio/authz/core/resource"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type Handler struct {
	authz     *rebac.Manager
	resources *resource.Service
	audit     *audit.Logger
	tokens    *TokenVerifier
	log       *zap.Logger
}

func NewHandler(authz *rebac.Manager, resources *resource.Service, auditLog *audit.Logger, tokens *TokenVerifier, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{authz: authz, resources: resources, audit: auditLog, tokens: tokens, log: log}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	protected := g.Group("")
	protected.Use(h.AuthMiddleware)

	perms := protected.Group("/permissions")
	perms.GET("/check", h.HandleCheck)
	perms.POST("/grants", h.HandleGrant)
	perms.DELETE("/grants", h.HandleRevoke)
	perms.POST("/transfer", h.HandleTransfer)
	perms.GET("/accessible", h.HandleAccessible)
	perms.GET("/relations", h.HandleRelations)

	admin := protected.Group("/admin", h.RequireAdmin)
	admin.GET("/audit", h.HandleAudit)
	admin.POST("/admins", h.HandleAddAdmin)

	protected.POST("/:namespace", h.HandleCreateResource)
	protected.GET("/:namespace", h.HandleListResources)
	protected.GET("/:namespace/:id", h.HandleGetResource)
	protected.PATCH("/:namespace/:id", h.HandleRenameResource)
	protected.DELETE("/:namespace/:id", h.HandleDeleteResource)
	protected.GET("/:namespace/:id/users", h.HandleResourceUsers)
}

// ---- Permissions ----

// HandleCheck answers whether a subject holds a relation on an object. The
// caller checks itself; checking another subject requires admin.
func (h *Handler) HandleCheck(c echo.Context) error {
	ctx := c.Request().Context()
	caller := Subject(c)

	ns, err := rebac.ParseNamespace(c.QueryParam("namespace"))
	if err != nil {
		return h.Error(c, err)
	}
	rel, err := rebac.ParseRelation(c.QueryParam("relation"))
	if err != nil {
		return h.Error(c, err)
	}
	objectID := c.QueryParam("object_id")
	if objectID == "" {
		return h.Error(c, rebac.Validationf("object_id is required"))
	}

	subject := c.QueryParam("subject_id")
	if subject == "" {
		subject = caller
	} else if subject != caller {
		if err := h.authz.RequireAdmin(ctx, caller); err != nil {
			return h.Error(c, err)
		}
	}

	allowed, err := h.authz.CheckPermission(ctx, subject, ns, objectID, rel)
	if err != nil {
		return h.Error(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"subject_id": subject,
		"namespace":  ns,
		"object_id":  objectID,
		"relation":   rel,
		"allowed":    allowed,
	})
}

type tupleBody struct {
	Namespace rebac.Namespace `json:"namespace"`
	ObjectID  string          `json:"object_id"`
	Relation  rebac.Relation  `json:"relation"`
	SubjectID string          `json:"subject_id"`
}

func (h *Handler) HandleGrant(c echo.Context) error {
	var body tupleBody
	if err := c.Bind(&body); err != nil {
		return h.Error(c, rebac.Validationf("invalid request body"))
	}

	res, err := h.authz.GrantPermission(c.Request().Context(), rebac.GrantRequest{
		Namespace: body.Namespace,
		ObjectID:  body.ObjectID,
		Relation:  body.Relation,
		SubjectID: body.SubjectID,
		GrantedBy: Subject(c),
	})
	return h.result(c, res, err)
}

func (h *Handler) HandleRevoke(c echo.Context) error {
	var body tupleBody
	if err := c.Bind(&body); err != nil {
		return h.Error(c, rebac.Validationf("invalid request body"))
	}

	res, err := h.authz.RevokePermission(c.Request().Context(), rebac.RevokeRequest{
		Namespace: body.Namespace,
		ObjectID:  body.ObjectID,
		Relation:  body.Relation,
		SubjectID: body.SubjectID,
		RevokedBy: Subject(c),
	})
	return h.result(c, res, err)
}

func (h *Handler) HandleTransfer(c echo.Context) error {
	var body struct {
		Namespace rebac.Namespace `json:"namespace"`
		ObjectID  string          `json:"object_id"`
		To        string          `json:"to"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, rebac.Validationf("invalid request body"))
	}

	caller := Subject(c)
	res, err := h.authz.TransferOwnership(c.Request().Context(), rebac.TransferRequest{
		Namespace:   body.Namespace,
		ObjectID:    body.ObjectID,
		From:        caller,
		To:          body.To,
		RequestedBy: caller,
	})
	return h.result(c, res, err)
}

func (h *Handler) HandleAccessible(c echo.Context) error {
	ns, err := rebac.ParseNamespace(c.QueryParam("namespace"))
	if err != nil {
		return h.Error(c, err)
	}
	var rel rebac.Relation
	if raw := c.QueryParam("relation"); raw != "" {
		if rel, err = rebac.ParseRelation(raw); err != nil {
			return h.Error(c, err)
		}
	}

	ids, err := h.authz.ListAccessible(c.Request().Context(), Subject(c), ns, rel)
	if err != nil {
		return h.Error(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"object_ids": ids})
}

func (h *Handler) HandleRelations(c echo.Context) error {
	ns, err := rebac.ParseNamespace(c.QueryParam("namespace"))
	if err != nil {
		return h.Error(c, err)
	}

	objects, err := h.authz.GetAccessibleWithRelation(c.Request().Context(), ns, Subject(c))
	if err != nil {
		return h.Error(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"objects": objects})
}

// ---- Resources ----

func (h *Handler) namespace(c echo.Context) (rebac.Namespace, error) {
	return rebac.ParseNamespace(c.Param("namespace"))
}

func (h *Handler) HandleCreateResource(c echo.Context) error {
	ns, err := h.namespace(c)
	if err != nil {
		return h.Error(c, err)
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, rebac.Validationf("invalid request body"))
	}

	r, err := h.resources.Create(c.Request().Context(), Subject(c), ns, body.Name)
	if err != nil {
		return h.Error(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) HandleListResources(c echo.Context) error {
	ns, err := h.namespace(c)
	if err != nil {
		return h.Error(c, err)
	}

	list, err := h.resources.List(c.Request().Context(), Subject(c), ns)
	if err != nil {
		return h.Error(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"resources": list})
}

func (h *Handler) HandleGetResource(c echo.Context) error {
	ns, err := h.namespace(c)
	if err != nil {
		return h.Error(c, err)
	}

	r, err := h.resources.Get(c.Request().Context(), Subject(c), ns, c.Param("id"))
	if err != nil {
		return h.Error(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) HandleRenameResource(c echo.Context) error {
	ns, err := h.namespace(c)
	if err != nil {
		return h.Error(c, err)
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, rebac.Validationf("invalid request body"))
	}

	r, err := h.resources.Rename(c.Request().Context(), Subject(c), ns, c.Param("id"), body.Name)
	if err != nil {
		return h.Error(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) HandleDeleteResource(c echo.Context) error {
	ns, err := h.namespace(c)
	if err != nil {
		return h.Error(c, err)
	}

	if err := h.resources.Delete(c.Request().Context(), Subject(c), ns, c.Param("id")); err != nil {
		return h.Error(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleResourceUsers lists the raw grants on an object. Only owners see them.
func (h *Handler) HandleResourceUsers(c echo.Context) error {
	ctx := c.Request().Context()
	ns, err := h.namespace(c)
	if err != nil {
		return h.Error(c, err)
	}
	id := c.Param("id")

	if err := h.authz.RequireOwner(ctx, Subject(c), ns, id); err != nil {
		return h.Error(c, err)
	}
	users, err := h.authz.ListResourceUsers(ctx, ns, id)
	if err != nil {
		return h.Error(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"users": users})
}

// ---- Admin ----

func (h *Handler) HandleAudit(c echo.Context) error {
	filter := audit.Filter{
		ActorID:   c.QueryParam("actor_id"),
		SubjectID: c.QueryParam("subject_id"),
		Namespace: c.QueryParam("namespace"),
		ObjectID:  c.QueryParam("object_id"),
		Limit:     100,
	}
	if t := c.QueryParam("type"); t != "" {
		filter.Types = []string{t}
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return h.Error(c, rebac.Validationf("limit must be a positive integer"))
		}
		filter.Limit = n
	}
	if raw := c.QueryParam("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return h.Error(c, rebac.Validationf("since must be a duration such as 24h"))
		}
		filter.StartTime = time.Now().UTC().Add(-d)
	}

	events, err := h.audit.Query(c.Request().Context(), filter)
	if err != nil {
		return h.Error(c, rebac.StorageError("query audit", err))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events})
}

func (h *Handler) HandleAddAdmin(c echo.Context) error {
	var body struct {
		SubjectID string `json:"subject_id"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, rebac.Validationf("invalid request body"))
	}

	res, err := h.authz.GrantPermission(c.Request().Context(), rebac.GrantRequest{
		Namespace: rebac.NamespaceSystem,
		ObjectID:  rebac.SystemObjectID,
		Relation:  rebac.RelationAdmin,
		SubjectID: body.SubjectID,
		GrantedBy: Subject(c),
	})
	return h.result(c, res, err)
}

// ---- Responses ----

func errorBody(err error) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]string{
			"code":    rebac.KindOf(err).String(),
			"message": rebac.PublicMessage(err),
		},
	}
}

// Error writes err with the status its kind maps to. Internal detail is
// logged, never returned.
func (h *Handler) Error(c echo.Context, err error) error {
	status := rebac.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.JSON(status, errorBody(err))
}

// result writes a grant/revoke outcome. A policy denial is a 403 carrying the
// denial reason.
func (h *Handler) result(c echo.Context, res rebac.Result, err error) error {
	if err != nil {
		return h.Error(c, err)
	}
	if !res.Success {
		return c.JSON(http.StatusForbidden, map[string]interface{}{
			"error": map[string]string{
				"code":    rebac.KindForbidden.String(),
				"message": res.Error,
			},
		})
	}
	return c.JSON(http.StatusOK, res)
}
