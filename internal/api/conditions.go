package api

import (
	"net/http"
	"strings"

	"github.com/TimurManjosov/contentship/internal/engine"
	"github.com/TimurManjosov/contentship/internal/rules"
)

type testConditionsRequest struct {
	rules.ConditionSet
	Context *engine.RequestContext `json:"context"`
}

type guardRequest struct {
	Attributes map[string]string      `json:"attributes"`
	Mode       rules.GuardMode        `json:"mode"`
	Content    string                 `json:"content"`
	Context    *engine.RequestContext `json:"context"`
}

type validateExpressionRequest struct {
	Expression string `json:"expression"`
}

type validateExpressionResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// handleTestConditions previews a condition set without saving it.
func (s *Server) handleTestConditions(w http.ResponseWriter, r *http.Request) {
	var req testConditionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := rules.ValidateCombinator("operator", req.Operator); err != nil {
		ValidationError(w, r, "invalid operator", fieldsOf(err))
		return
	}
	rc := s.builder.Complete(r.Context(), req.Context, nil)
	writeJSON(w, http.StatusOK, s.svc.Test(req.Conditions, req.Operator, rc))
}

func (s *Server) handleGuard(w http.ResponseWriter, r *http.Request) {
	var req guardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	mode := rules.GuardMode(strings.ToLower(strings.TrimSpace(string(req.Mode))))
	switch mode {
	case "":
		mode = rules.GuardShow
	case rules.GuardShow, rules.GuardHide:
	default:
		ValidationError(w, r, "invalid guard mode", map[string]string{"mode": "must be show or hide"})
		return
	}
	rc := s.builder.Complete(r.Context(), req.Context, nil)
	writeJSON(w, http.StatusOK, s.svc.Guard(req.Attributes, mode, req.Content, rc))
}

func (s *Server) handleValidateExpression(w http.ResponseWriter, r *http.Request) {
	var req validateExpressionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.svc.ValidateExpression(req.Expression); err != nil {
		writeJSON(w, http.StatusOK, validateExpressionResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, validateExpressionResponse{Valid: true})
}
