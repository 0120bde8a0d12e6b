package market

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/babylon/engine/internal/amm"
	"github.com/babylon/engine/internal/apperr"
	"github.com/babylon/engine/internal/model"
)

// PositionView is a position marked at the market's current prices.
type PositionView struct {
	model.Position
	Question      string          `json:"question"`
	MarketStatus  string          `json:"market_status"`
	MarkValue     decimal.Decimal `json:"mark_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Portfolio summarizes a user's open prediction-market positions.
type Portfolio struct {
	UserID          string          `json:"user_id"`
	Positions       []PositionView  `json:"positions"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	TotalValue      decimal.Decimal `json:"total_value"`
	TotalUnrealized decimal.Decimal `json:"total_unrealized_pnl"`
}

// Portfolio marks every unsettled position of userID to market.
func (s *Service) Portfolio(ctx context.Context, userID string) (*Portfolio, error) {
	positions, err := s.store.ListUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &Portfolio{
		UserID:          userID,
		Positions:       []PositionView{},
		TotalCost:       decimal.Zero,
		TotalValue:      decimal.Zero,
		TotalUnrealized: decimal.Zero,
	}
	for _, p := range positions {
		if p.Settled {
			continue
		}
		m, err := s.GetMarket(ctx, p.MarketID)
		if err != nil {
			return nil, err
		}
		value := p.YesShares.Mul(amm.CurrentPrice(m.YesShares, m.NoShares, amm.Yes)).
			Add(p.NoShares.Mul(amm.CurrentPrice(m.YesShares, m.NoShares, amm.No)))
		unrealized := value.Sub(p.CostBasis)

		out.Positions = append(out.Positions, PositionView{
			Position:      p,
			Question:      m.Question,
			MarketStatus:  m.Status,
			MarkValue:     value,
			UnrealizedPnL: unrealized,
		})
		out.TotalCost = out.TotalCost.Add(p.CostBasis)
		out.TotalValue = out.TotalValue.Add(value)
		out.TotalUnrealized = out.TotalUnrealized.Add(unrealized)
	}
	return out, nil
}

// --- HTTP Handlers ---

// Routes mounts the market endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/markets", s.HandleList)
	r.Post("/markets", s.HandleCreate)
	r.Get("/markets/{marketID}", s.HandleGet)
	r.Get("/markets/{marketID}/price", s.HandlePrice)
	r.Get("/markets/{marketID}/quote", s.HandleQuote)
	r.Post("/markets/{marketID}/buy", s.HandleBuy)
	r.Post("/markets/{marketID}/resolve", s.HandleResolve)
	r.Post("/markets/{marketID}/cancel", s.HandleCancel)
	r.Get("/portfolio/{userID}", s.HandlePortfolio)
}

// HandleCreate handles POST /api/v1/markets
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "invalid request body"))
		return
	}
	m, err := s.CreateMarket(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// HandleList handles GET /api/v1/markets?status=active
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	markets, err := s.ListMarkets(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// HandleGet handles GET /api/v1/markets/{marketID}
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request) {
	m, err := s.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandlePrice handles GET /api/v1/markets/{marketID}/price
func (s *Service) HandlePrice(w http.ResponseWriter, r *http.Request) {
	m, err := s.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"yes": amm.CurrentPrice(m.YesShares, m.NoShares, amm.Yes),
		"no":  amm.CurrentPrice(m.YesShares, m.NoShares, amm.No),
	})
}

// HandleQuote handles GET /api/v1/markets/{marketID}/quote?side=YES&amount=10
func (s *Service) HandleQuote(w http.ResponseWriter, r *http.Request) {
	side, err := amm.ParseSide(r.URL.Query().Get("side"))
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "amount must be a decimal number"))
		return
	}
	q, err := s.Quote(r.Context(), chi.URLParam(r, "marketID"), side, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// HandleBuy handles POST /api/v1/markets/{marketID}/buy
func (s *Service) HandleBuy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "invalid request body"))
		return
	}
	if req.UserID == "" {
		writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "user_id is required"))
		return
	}
	req.MarketID = chi.URLParam(r, "marketID")

	res, err := s.Buy(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ResolveRequest is the JSON body for POST /markets/{id}/resolve.
type ResolveRequest struct {
	Outcome amm.Side `json:"outcome"`
}

// HandleResolve handles POST /api/v1/markets/{marketID}/resolve
func (s *Service) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "invalid request body"))
		return
	}
	outcome, err := amm.ParseSide(string(req.Outcome))
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.Resolve(r.Context(), chi.URLParam(r, "marketID"), outcome == amm.Yes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleCancel handles POST /api/v1/markets/{marketID}/cancel
func (s *Service) HandleCancel(w http.ResponseWriter, r *http.Request) {
	res, err := s.Cancel(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandlePortfolio handles GET /api/v1/portfolio/{userID}
func (s *Service) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.Portfolio(r.Context(), chi.URLParam(r, "userID"))
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

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{
		"error": err.Error(),
		"code":  apperr.Code(err),
	})
}
