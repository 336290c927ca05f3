package http

import (
	"net/http"

	"accantona/internal/log"

	"github.com/gorilla/mux"
)

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, log.OpCreate, "", err)
		return
	}

	b, err := s.svc.Catalog.Create(r.Context(), actor(r), mux.Vars(r)["ws"], req.toInput())
	if err != nil {
		s.fail(w, r, log.OpCreate, "", err)
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "Budget created",
		log.FieldBudgetID, b.ID,
		log.FieldWorkspaceID, b.WorkspaceID,
		"type", b.Type)
	NewJSONResponse().Status(http.StatusCreated).Data(newBudgetJSON(*b)).Write(w)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	at, err := ParseAsOf(r, s.now())
	if err != nil {
		s.fail(w, r, log.OpList, "", err)
		return
	}

	views, err := s.svc.Catalog.List(r.Context(), mux.Vars(r)["ws"], at)
	if err != nil {
		s.fail(w, r, log.OpList, "", err)
		return
	}

	out := make([]budgetViewJSON, 0, len(views))
	for _, v := range views {
		out = append(out, newBudgetViewJSON(v))
	}
	NewJSONResponse().Data(out).Write(w)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	b, err := s.svc.Catalog.Get(r.Context(), vars["ws"], vars["id"])
	if err != nil {
		s.fail(w, r, log.OpRead, vars["id"], err)
		return
	}
	NewJSONResponse().Data(newBudgetJSON(*b)).Write(w)
}

// handlePreviewBudget computes the monthly contribution of a plan that is
// still being edited. Nothing is stored.
func (s *Server) handlePreviewBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, log.OpPreview, "", err)
		return
	}

	p, err := s.svc.Catalog.Preview(req.toInput(), s.now())
	if err != nil {
		s.fail(w, r, log.OpPreview, "", err)
		return
	}
	NewJSONResponse().Data(previewJSON{
		TotalMonths:         p.TotalMonths,
		MonthlyContribution: p.MonthlyContribution.StringFixed(2),
		FirstMonth:          p.FirstMonth,
	}).Write(w)
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req updateBudgetRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, log.OpUpdate, vars["id"], err)
		return
	}

	b, err := s.svc.Catalog.Update(r.Context(), actor(r), vars["ws"], vars["id"], req.toPatch())
	if err != nil {
		s.fail(w, r, log.OpUpdate, vars["id"], err)
		return
	}
	NewJSONResponse().Data(newBudgetJSON(*b)).Write(w)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.svc.Catalog.Delete(r.Context(), actor(r), vars["ws"], vars["id"]); err != nil {
		s.fail(w, r, log.OpDelete, vars["id"], err)
		return
	}
	NewJSONResponse().Data(map[string]any{"id": vars["id"], "deleted": true}).Write(w)
}
