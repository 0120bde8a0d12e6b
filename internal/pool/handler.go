package pool

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/babylon/engine/internal/apperr"
	"github.com/babylon/engine/internal/model"
)

var errBadBody = apperr.New(apperr.ErrValidation, "VALIDATION", "invalid request body")

// Routes mounts the pool endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/pools", s.HandleList)
	r.Post("/pools", s.HandleCreate)
	r.Get("/pools/{poolID}", s.HandleGet)
	r.Get("/pools/{poolID}/deposits", s.HandleListDeposits)
	r.Post("/pools/{poolID}/deposit", s.HandleDeposit)
	r.Post("/pools/{poolID}/withdraw", s.HandleWithdraw)
	r.Post("/pools/{poolID}/pnl", s.HandlePnL)
	r.Post("/pools/{poolID}/deactivate", s.HandleDeactivate)
}

// HandleDeposit handles POST /api/v1/pools/{poolID}/deposit
func (s *Service) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadBody)
		return
	}
	if req.UserID == "" {
		writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "user_id is required"))
		return
	}
	req.PoolID = chi.URLParam(r, "poolID")

	res, err := s.Deposit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleWithdraw handles POST /api/v1/pools/{poolID}/withdraw
func (s *Service) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadBody)
		return
	}
	if req.UserID == "" || req.DepositID == "" {
		writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "user_id and deposit_id are required"))
		return
	}
	req.PoolID = chi.URLParam(r, "poolID")

	res, err := s.Withdraw(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleCreate handles POST /api/v1/pools
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadBody)
		return
	}
	p, err := s.CreatePool(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleList handles GET /api/v1/pools
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	pools, err := s.ListPools(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if pools == nil {
		pools = []model.Pool{}
	}
	writeJSON(w, http.StatusOK, pools)
}

// HandleGet handles GET /api/v1/pools/{poolID}
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.GetPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleListDeposits handles GET /api/v1/pools/{poolID}/deposits
func (s *Service) HandleListDeposits(w http.ResponseWriter, r *http.Request) {
	deps, err := s.ListDeposits(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if deps == nil {
		deps = []model.PoolDeposit{}
	}
	writeJSON(w, http.StatusOK, deps)
}

// HandlePnL handles POST /api/v1/pools/{poolID}/pnl
func (s *Service) HandlePnL(w http.ResponseWriter, r *http.Request) {
	var req PnLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadBody)
		return
	}
	p, err := s.ApplyPnL(r.Context(), chi.URLParam(r, "poolID"), req.PnL, req.Realized)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleDeactivate handles POST /api/v1/pools/{poolID}/deactivate
func (s *Service) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	p, err := s.Deactivate(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{
		"error": err.Error(),
		"code":  apperr.Code(err),
	})
}
