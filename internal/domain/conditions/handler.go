package conditions

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Action is the closed set of correction operations exposed at the tool
// boundary. Free-form action strings are rejected before they reach the
// engine.
type Action string

const (
	ActionRemoveText      Action = "remove_text"
	ActionRemoveCode      Action = "remove_code"
	ActionRemoveID        Action = "remove_id"
	ActionRemovePredicate Action = "remove_predicate"
	ActionListCorrections Action = "list_corrections"
	ActionListPredicates  Action = "list_predicates"
	ActionStatus          Action = "status"
)

// requiredArg names the request field each mutating action needs. Read-only
// actions take no arguments.
var requiredArg = map[Action]string{
	ActionRemoveText:      "target",
	ActionRemoveCode:      "code",
	ActionRemoveID:        "resource_id",
	ActionRemovePredicate: "target",
	ActionListCorrections: "",
	ActionListPredicates:  "",
	ActionStatus:          "",
}

// CorrectionRequest is the tool-surface payload for POST /api/corrections.
type CorrectionRequest struct {
	Action     Action `json:"action"`
	Target     string `json:"target"`
	Code       string `json:"code"`
	ResourceID string `json:"resource_id"`
	Reason     string `json:"reason"`
}

func (req *CorrectionRequest) validate() error {
	arg, known := requiredArg[req.Action]
	if !known {
		return fmt.Errorf("unknown action %q; valid actions: remove_text, remove_code, remove_id, remove_predicate, list_corrections, list_predicates, status", req.Action)
	}
	missing := false
	switch arg {
	case "target":
		missing = req.Target == ""
	case "code":
		missing = req.Code == ""
	case "resource_id":
		missing = req.ResourceID == ""
	}
	if missing {
		return fmt.Errorf("%q is required for the %s action", arg, req.Action)
	}
	return nil
}

// Handler exposes the retrieval and correction engines over HTTP. Responses
// are plain structured payloads; internal records never leave the store.
type Handler struct {
	retriever         *Retriever
	corrections       *Engine
	maxResultsDefault int
}

func NewHandler(retriever *Retriever, corrections *Engine, maxResultsDefault int) *Handler {
	return &Handler{retriever: retriever, corrections: corrections, maxResultsDefault: maxResultsDefault}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/conditions", h.RetrieveConditions)
	api.POST("/corrections", h.CorrectConditions)
	api.GET("/corrections", h.ListCorrections)
	api.GET("/predicates", h.ListPredicates)
	api.GET("/status", h.Status)
}

// RetrieveConditions handles GET /api/conditions.
func (h *Handler) RetrieveConditions(c echo.Context) error {
	opts := RetrieveOptions{
		Query:      c.QueryParam("query"),
		Code:       c.QueryParam("code"),
		CodeSystem: c.QueryParam("code_system"),
		Status:     c.QueryParam("status"),
		MaxResults: h.maxResultsDefault,
	}
	if raw := c.QueryParam("max_results"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("max_results must be a positive integer, got %q", raw),
			})
		}
		opts.MaxResults = n
	}

	return c.JSON(http.StatusOK, map[string]string{"summary": h.retriever.Retrieve(opts)})
}

// CorrectConditions handles POST /api/corrections. The action is validated
// against the closed enumeration before the engine is touched.
func (h *Handler) CorrectConditions(c echo.Context) error {
	var req CorrectionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := req.validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if req.Reason == "" {
		req.Reason = "User correction"
	}

	switch req.Action {
	case ActionRemoveText:
		return c.JSON(http.StatusOK, h.corrections.RemoveByText(req.Target, req.Reason))
	case ActionRemoveCode:
		return c.JSON(http.StatusOK, h.corrections.RemoveByCode(req.Code, req.Reason))
	case ActionRemoveID:
		return c.JSON(http.StatusOK, h.corrections.RemoveByID(req.ResourceID, req.Reason))
	case ActionRemovePredicate:
		return c.JSON(http.StatusOK, h.corrections.RemoveByPredicate(req.Target, req.Reason))
	case ActionListCorrections:
		return c.JSON(http.StatusOK, h.corrections.ListCorrections())
	case ActionListPredicates:
		return c.JSON(http.StatusOK, h.corrections.AvailablePredicates())
	case ActionStatus:
		return c.JSON(http.StatusOK, h.corrections.Status())
	}
	// validate() already rejected unknown actions.
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown action"})
}

// ListCorrections handles GET /api/corrections.
func (h *Handler) ListCorrections(c echo.Context) error {
	return c.JSON(http.StatusOK, h.corrections.ListCorrections())
}

// ListPredicates handles GET /api/predicates.
func (h *Handler) ListPredicates(c echo.Context) error {
	return c.JSON(http.StatusOK, h.corrections.AvailablePredicates())
}

// Status handles GET /api/status.
func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.corrections.Status())
}
