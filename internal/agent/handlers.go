package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/babylon/engine/internal/amm"
	"github.com/babylon/engine/internal/apperr"
	"github.com/babylon/engine/internal/llm"
	"github.com/babylon/engine/internal/market"
	"github.com/babylon/engine/internal/model"
	"github.com/babylon/engine/internal/store"
)

// Trader is the part of market.Service the trading handler uses.
type Trader interface {
	ListMarkets(ctx context.Context, status string) ([]model.Market, error)
	Buy(ctx context.Context, req market.BuyRequest) (*market.BuyResult, error)
}

// Defaults for TradingHandler.
var (
	DefaultTradeSize        = decimal.NewFromInt(10)
	DefaultMaxTradesPerTick = 3
	cheapSideThreshold      = decimal.NewFromFloat(0.5)
)

// TradingHandler buys the cheaper side of active markets, one fixed-size
// trade per market, until the per-tick cap is reached.
type TradingHandler struct {
	markets   Trader
	store     store.Store // optional, for trade logs
	size      decimal.Decimal
	maxTrades int
	logger    *slog.Logger
}

// NewTradingHandler creates a trading handler. Zero size or maxTrades take
// the package defaults.
func NewTradingHandler(markets Trader, st store.Store, size decimal.Decimal, maxTrades int) *TradingHandler {
	if !size.IsPositive() {
		size = DefaultTradeSize
	}
	if maxTrades <= 0 {
		maxTrades = DefaultMaxTradesPerTick
	}
	return &TradingHandler{
		markets:   markets,
		store:     st,
		size:      size,
		maxTrades: maxTrades,
		logger:    slog.Default(),
	}
}

// Act implements Handler. Running out of balance ends the round quietly;
// markets that reject the trade on limits or state are skipped.
func (h *TradingHandler) Act(ctx context.Context, agent *model.User) (int, error) {
	if agent.VirtualBalance.LessThan(h.size) {
		return 0, nil
	}
	markets, err := h.markets.ListMarkets(ctx, model.MarketActive)
	if err != nil {
		return 0, fmt.Errorf("list markets: %w", err)
	}

	trades := 0
	for _, m := range markets {
		if trades >= h.maxTrades {
			break
		}
		side := amm.No
		if amm.PriceYes(m.YesShares, m.NoShares).LessThanOrEqual(cheapSideThreshold) {
			side = amm.Yes
		}

		res, err := h.markets.Buy(ctx, market.BuyRequest{
			UserID:   agent.ID,
			MarketID: m.ID,
			Side:     side,
			Amount:   h.size,
		})
		switch {
		case errors.Is(err, apperr.ErrInsufficientFunds):
			return trades, nil
		case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrInvalidState):
			h.logger.Debug("agent trade skipped", "agent_id", agent.ID, "market_id", m.ID, "err", err)
			continue
		case err != nil:
			return trades, fmt.Errorf("buy %s on %s: %w", side, m.ID, err)
		}
		trades++

		if h.store != nil {
			err := h.store.InsertAgentLog(ctx, &model.AgentLog{
				ID:      uuid.New().String(),
				AgentID: agent.ID,
				Type:    LogTrade,
				Level:   "info",
				Message: fmt.Sprintf("bought %s on %q", side, m.Question),
				Metadata: map[string]string{
					"market_id": m.ID,
					"side":      string(side),
					"amount":    h.size.String(),
					"shares":    res.Quote.SharesBought.String(),
				},
				CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				h.logger.Warn("write agent log", "agent_id", agent.ID, "market_id", m.ID, "err", err)
			}
		}
	}
	return trades, nil
}

// SocialConfig selects the models used for generated content.
type SocialConfig struct {
	Model    string
	ProModel string
}

// SocialHandler generates one piece of content of its kind per tick and
// stores it as a post. With no LLM client configured it does nothing.
type SocialHandler struct {
	kind   string
	client llm.Client
	store  store.Store
	cfg    SocialConfig
}

// NewSocialHandler creates a handler for kind, one of the model.PostKind
// constants.
func NewSocialHandler(kind string, client llm.Client, st store.Store, cfg SocialConfig) *SocialHandler {
	return &SocialHandler{kind: kind, client: client, store: st, cfg: cfg}
}

// ModelFor returns the model used for agent, or "" for the client default.
func (h *SocialHandler) ModelFor(agent *model.User) string {
	if agent.AgentTier == model.AgentTierPro && h.cfg.ProModel != "" {
		return h.cfg.ProModel
	}
	return h.cfg.Model
}

// Act implements Handler.
func (h *SocialHandler) Act(ctx context.Context, agent *model.User) (int, error) {
	if h.client == nil {
		return 0, nil
	}
	markets, err := h.store.ListMarkets(ctx, model.MarketActive)
	if err != nil {
		return 0, fmt.Errorf("list markets: %w", err)
	}

	prompt := llm.Prompt{
		System: fmt.Sprintf("You are %s, an autonomous trader on a prediction market. Write in a confident, concise voice. Never use hashtags.", agent.Username),
		User:   h.instruction(markets),
		Model:  h.ModelFor(agent),
	}
	text, err := h.client.Generate(ctx, prompt)
	if err != nil {
		return 0, fmt.Errorf("generate %s: %w", h.kind, err)
	}

	modelName := prompt.Model
	if modelName == "" {
		modelName = "default"
	}
	post := &model.Post{
		ID:        uuid.New().String(),
		AuthorID:  agent.ID,
		Kind:      h.kind,
		Content:   text,
		Model:     modelName,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.InsertPost(ctx, post); err != nil {
		return 0, fmt.Errorf("save %s: %w", h.kind, err)
	}
	return 1, nil
}

func (h *SocialHandler) instruction(markets []model.Market) string {
	var b strings.Builder
	switch h.kind {
	case model.PostKindComment:
		b.WriteString("Write a one-sentence reply to another trader's take on the market.")
	case model.PostKindDM:
		b.WriteString("Write a short direct message to a fellow trader sharing your current read.")
	case model.PostKindGroupChat:
		b.WriteString("Write a short message to your trading group chat.")
	default:
		b.WriteString("Write a short public post (under 280 characters) about the markets.")
	}
	if len(markets) > 0 {
		b.WriteString("\nOpen markets:")
		for i, m := range markets {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "\n- %s (YES %s)", m.Question,
				amm.PriceYes(m.YesShares, m.NoShares).Round(2).String())
		}
	}
	return b.String()
}
