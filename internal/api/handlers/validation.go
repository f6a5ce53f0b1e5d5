package handlers

import (
	"errors"
	"fmt"
	"strings"

	"signalexec/internal/engine"
	"signalexec/internal/models"
	"signalexec/pkg/utils"
)

var errInvalidRange = errors.New("'to' must not be before 'from'")

// validateSubscribeRequest проверяет запрос подписки и нормализует биржи.
// Количество link и дубли аккаунтов проверяет движок.
func validateSubscribeRequest(req *engine.SubscribeRequest) error {
	var errs utils.ValidationErrors

	req.BotID = strings.TrimSpace(req.BotID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.BotID == "" {
		errs.Add("bot_id", "is required")
	}
	if req.ClientID == "" {
		errs.Add("client_id", "is required")
	}

	for i := range req.Links {
		lr := &req.Links[i]
		prefix := fmt.Sprintf("links[%d]", i)

		if strings.TrimSpace(lr.ExchangeAccountID) == "" {
			errs.Add(prefix+".exchange_account_id", "is required")
		}
		errs.AddError(prefix+".exchange", utils.ValidateExchange(lr.Exchange))
		errs = append(errs, validateLimits(prefix+".limits", lr.Limits)...)
		errs = append(errs, validateOverride(prefix+".override", lr.Override)...)
		for symbol, o := range lr.SymbolOverrides {
			field := prefix + ".symbol_overrides." + symbol
			errs.AddError(field, utils.ValidateSymbol(utils.NormalizeSymbol(symbol)))
			errs = append(errs, validateOverride(field, o)...)
		}
	}
	return errs.Err()
}

// validateLimits: max_positions = 0 - взять из настроек бота
func validateLimits(prefix string, l models.RiskLimits) utils.ValidationErrors {
	var errs utils.ValidationErrors
	errs.AddError(prefix+".max_daily_loss_usd", utils.ValidateMaxDailyLoss(l.MaxDailyLossUSD))
	if l.MaxPositions != 0 {
		errs.AddError(prefix+".max_positions", utils.ValidateMaxPositions(l.MaxPositions))
	}
	return errs
}

// validateOverride проверяет только заданные поля
func validateOverride(prefix string, o models.ConfigOverride) utils.ValidationErrors {
	var errs utils.ValidationErrors
	if o.Leverage != nil {
		errs.AddError(prefix+".leverage", utils.ValidateLeverage(*o.Leverage))
	}
	if o.MarginUSD != nil {
		errs.AddError(prefix+".margin_usd", utils.ValidateMargin(*o.MarginUSD))
	}
	if o.StopLossPct != nil {
		errs.AddError(prefix+".stop_loss_pct", utils.ValidateStopLoss(*o.StopLossPct))
	}
	if o.TakeProfitPct != nil {
		errs.AddError(prefix+".take_profit_pct", utils.ValidateTakeProfit(*o.TakeProfitPct))
	}
	return errs
}
