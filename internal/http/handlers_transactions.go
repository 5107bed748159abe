package http

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"expensetracker/internal/export"
	applog "expensetracker/internal/log"
)

type transactionsResponse struct {
	Transactions any `json:"transactions"`
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	txs, err := s.deps.Transactions.List(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Transactions: txs})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.toInput(time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := s.deps.Transactions.Create(r.Context(), id.UserID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.txLog.LogTransactionChanged(r.Context(), applog.OpCreate, id.UserID, tx.ID, tx.Type.String(), tx.Amount, tx.Category, tx.Date)
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	txID := r.PathValue("id")

	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.toInput(time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := s.deps.Transactions.Update(r.Context(), id.UserID, txID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.txLog.LogTransactionChanged(r.Context(), applog.OpUpdate, id.UserID, tx.ID, tx.Type.String(), tx.Amount, tx.Category, tx.Date)
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	txID := r.PathValue("id")

	if err := s.deps.Transactions.Delete(r.Context(), id.UserID, txID); err != nil {
		writeError(w, r, err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Transaction deleted",
		applog.FieldOperation, applog.OpDelete,
		applog.FieldTransactionID, txID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	txs, err := s.deps.Transactions.List(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, txs); err != nil {
		if errors.Is(err, export.ErrEmpty) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, r, err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Transactions exported",
		applog.FieldOperation, applog.OpExport,
		applog.FieldCount, len(txs))

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
