package http

import (
	"net/http"

	"accantona/internal/core"
	"accantona/internal/log"
	"accantona/internal/services"

	"github.com/gorilla/mux"
)

// handleGetLedger returns the ledger history of a budget with the reserved
// balance it replays to.
func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entries, err := s.svc.Ledger.Entries(r.Context(), vars["ws"], vars["id"])
	if err != nil {
		s.fail(w, r, log.OpRead, vars["id"], err)
		return
	}

	out := ledgerJSON{
		BudgetID:        vars["id"],
		CurrentReserved: core.FormatMoney(services.Replay(entries)),
		Entries:         make([]ledgerEntryJSON, 0, len(entries)),
	}
	for _, e := range entries {
		out.Entries = append(out.Entries, newLedgerEntryJSON(e))
	}
	NewJSONResponse().Data(out).Write(w)
}

// handlePostLedgerEntry records a manual fund, adjust or consume movement.
func (s *Server) handlePostLedgerEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req ledgerEntryRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, log.OpPost, vars["id"], err)
		return
	}

	entry, err := s.svc.Ledger.Post(r.Context(), actor(r), vars["ws"], vars["id"], req.toInput())
	if err != nil {
		s.fail(w, r, log.OpPost, vars["id"], err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(newLedgerEntryJSON(*entry)).Write(w)
}
