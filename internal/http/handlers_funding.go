package http

import (
	"net/http"
	"time"

	"accantona/internal/core"
	"accantona/internal/log"

	"github.com/gorilla/mux"
)

// handleApplyContributions funds every active plan of the workspace for the
// current month. A partial failure still returns the funded budgets, with
// the error describing the rest.
func (s *Server) handleApplyContributions(w http.ResponseWriter, r *http.Request) {
	ws := mux.Vars(r)["ws"]
	res, err := s.svc.Funding.ApplyMonthlyContributions(r.Context(), actor(r), ws, s.now())
	if err != nil {
		if core.KindOf(err) != core.KindDependency {
			s.fail(w, r, log.OpApply, "", err)
			return
		}
		log.FromContext(r.Context()).WarnContext(r.Context(), "Contributions partially applied",
			log.FieldWorkspaceID, ws,
			log.FieldMonth, res.Month,
			"failed", res.Failed,
			log.FieldError, err)
		ErrorResponse(r, err).Data(newApplyResultJSON(res)).Write(w)
		return
	}
	NewJSONResponse().Data(newApplyResultJSON(res)).Write(w)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	at, err := ParseAsOf(r, s.now())
	if err != nil {
		s.fail(w, r, log.OpDashboard, "", err)
		return
	}

	d, err := s.svc.Reserves.Dashboard(r.Context(), mux.Vars(r)["ws"], at)
	if err != nil {
		s.fail(w, r, log.OpDashboard, "", err)
		return
	}
	NewJSONResponse().Data(newDashboardJSON(d)).Write(w)
}

func (s *Server) handleUpcomingPayments(w http.ResponseWriter, r *http.Request) {
	horizon, err := ParseHorizon(r)
	if err != nil {
		s.fail(w, r, log.OpList, "", err)
		return
	}

	dues, err := s.svc.Payments.Upcoming(r.Context(), mux.Vars(r)["ws"], s.now(), horizon)
	if err != nil {
		s.fail(w, r, log.OpList, "", err)
		return
	}

	out := make([]paymentDueJSON, 0, len(dues))
	for _, d := range dues {
		out = append(out, newPaymentDueJSON(d))
	}
	NewJSONResponse().Data(map[string]any{
		"horizonDays": int(horizon / (24 * time.Hour)),
		"payments":    out,
	}).Write(w)
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req confirmPaymentRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, log.OpConfirm, "", err)
		return
	}

	res, err := s.svc.Payments.Confirm(r.Context(), actor(r), vars["ws"], vars["id"], req.AccountID)
	if err != nil {
		s.fail(w, r, log.OpConfirm, "", err)
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "Payment confirmed",
		log.FieldWorkspaceID, vars["ws"],
		log.FieldPaymentDueID, vars["id"])
	NewJSONResponse().Data(newConfirmResultJSON(res)).Write(w)
}
