package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const dayLayout = "2006-01-02"

// DailyUsage aggregates one UTC day of a user's ledger.
type DailyUsage struct {
	Date         string          `json:"date"`
	Requests     int64           `json:"requests"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	Tokens       int64           `json:"tokens"`
	Cost         decimal.Decimal `json:"cost"`
}

// ModelUsage aggregates a user's ledger per model.
type ModelUsage struct {
	Model    string          `json:"model"`
	Requests int64           `json:"requests"`
	Tokens   int64           `json:"tokens"`
	Cost     decimal.Decimal `json:"cost"`
}

// UsageSummary is the reporting view of a user's ledger over a date range.
type UsageSummary struct {
	UserID         string          `json:"user_id"`
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	DailyUsage     []DailyUsage    `json:"daily_usage"`
	ModelBreakdown []ModelUsage    `json:"model_breakdown"`
	TotalSpend     decimal.Decimal `json:"total_spend"`
	CurrentUsage   decimal.Decimal `json:"current_usage"`
	MaxUsage       decimal.Decimal `json:"max_usage"`
	Percentage     decimal.Decimal `json:"percentage"`
}

// UsageReporter derives read-only summaries from the ledger.
type UsageReporter struct {
	ledger  *Ledger
	balance *Accumulator
}

// NewUsageReporter creates a new usage reporter (DI constructor).
func NewUsageReporter(ledger *Ledger, balance *Accumulator) *UsageReporter {
	return &UsageReporter{
		ledger:  ledger,
		balance: balance,
	}
}

// Summary aggregates the records with from <= timestamp < to.
// TotalSpend covers the range; CurrentUsage and MaxUsage are the live balance.
func (r *UsageReporter) Summary(ctx context.Context, userID string, from, to time.Time) (*UsageSummary, error) {
	if !from.Before(to) {
		return nil, errors.New("from must be before to")
	}

	balance, err := r.balance.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	records, err := r.ledger.List(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	summary := &UsageSummary{
		UserID:         userID,
		From:           from.UTC(),
		To:             to.UTC(),
		DailyUsage:     []DailyUsage{},
		ModelBreakdown: []ModelUsage{},
		TotalSpend:     decimal.Zero,
		CurrentUsage:   balance.CumulativeSpend,
		MaxUsage:       balance.SpendCeiling,
		Percentage:     percentage(balance.CumulativeSpend, balance.SpendCeiling),
	}

	days := make(map[string]*DailyUsage)
	models := make(map[string]*ModelUsage)

	for _, rec := range records {
		tokens := rec.InputTokens + rec.OutputTokens
		summary.TotalSpend = summary.TotalSpend.Add(rec.Cost)

		key := rec.Timestamp.UTC().Format(dayLayout)
		day, ok := days[key]
		if !ok {
			day = &DailyUsage{Date: key, Cost: decimal.Zero}
			days[key] = day
		}
		day.Requests++
		day.InputTokens += rec.InputTokens
		day.OutputTokens += rec.OutputTokens
		day.Tokens += tokens
		day.Cost = day.Cost.Add(rec.Cost)

		model, ok := models[rec.ModelID]
		if !ok {
			model = &ModelUsage{Model: rec.ModelID, Cost: decimal.Zero}
			models[rec.ModelID] = model
		}
		model.Requests++
		model.Tokens += tokens
		model.Cost = model.Cost.Add(rec.Cost)
	}

	for _, day := range days {
		summary.DailyUsage = append(summary.DailyUsage, *day)
	}
	sort.Slice(summary.DailyUsage, func(i, j int) bool {
		return summary.DailyUsage[i].Date < summary.DailyUsage[j].Date
	})

	for _, model := range models {
		summary.ModelBreakdown = append(summary.ModelBreakdown, *model)
	}
	sort.Slice(summary.ModelBreakdown, func(i, j int) bool {
		a, b := summary.ModelBreakdown[i], summary.ModelBreakdown[j]
		if cmp := a.Cost.Cmp(b.Cost); cmp != 0 {
			return cmp > 0
		}
		return a.Model < b.Model
	})

	return summary, nil
}

// percentage is spend/ceiling*100 with two decimals, capped at 100.
func percentage(spend, ceiling decimal.Decimal) decimal.Decimal {
	if !ceiling.IsPositive() {
		return decimal.NewFromInt(100)
	}

	pct := spend.Mul(decimal.NewFromInt(100)).DivRound(ceiling, 2)
	if pct.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	return pct
}

// String renders the summary totals for CLI output.
func (s *UsageSummary) String() string {
	return fmt.Sprintf("user=%s total=%s current=%s max=%s (%s%%)",
		s.UserID, FormatMoney(s.TotalSpend), FormatMoney(s.CurrentUsage), FormatMoney(s.MaxUsage), s.Percentage.StringFixed(2))
}
