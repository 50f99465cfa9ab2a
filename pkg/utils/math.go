package utils

import (
	"github.com/shopspring/decimal"
)

// math.go - расчёты для маржинальных позиций
//
// Все функции чистые, без побочных эффектов.
// Проценты везде считаются от номинала позиции (notional).

// ClampLeverage возвращает эффективное плечо: min(requested, ceiling).
//
// Плечо меньше 1 поднимается до 1. Если ceiling <= 0, ограничения нет.
//
// Примеры:
//   - ClampLeverage(20, 10) = 10
//   - ClampLeverage(3, 10) = 3
func ClampLeverage(requested, ceiling float64) float64 {
	lev := requested
	if lev < 1 {
		lev = 1
	}
	if ceiling > 0 && lev > ceiling {
		lev = ceiling
	}
	return lev
}

// PnlPercent - нереализованный PnL в процентах от номинала
//
// Для long: (mark - entry) / entry * 100, для short знак обратный.
// При entry <= 0 возвращает 0.
func PnlPercent(entry, mark float64, long bool) float64 {
	if entry <= 0 {
		return 0
	}
	pct := (mark - entry) / entry * 100
	if !long {
		pct = -pct
	}
	return pct
}

// MarginRatio - оставшаяся доля маржинального запаса позиции
//
// Запас при входе - расстояние от entry до цены ликвидации, ratio - какая его часть осталась:
// (mark - liq) / (entry - liq) для long, (liq - mark) / (liq - entry) для short.
// 1 при входе, 0 на цене ликвидации и за ней, больше 1 в прибыли.
// Без цены ликвидации или цены входа запас считается полным (1).
// Значение ниже порога (обычно 0.10) означает близкую принудительную ликвидацию.
func MarginRatio(entry, mark, liq float64, long bool) float64 {
	if liq <= 0 || entry <= 0 {
		return 1
	}
	if mark <= 0 {
		return 0
	}

	span, left := entry-liq, mark-liq
	if !long {
		span, left = liq-entry, liq-mark
	}
	if span <= 0 {
		// ликвидация по другую сторону от входа: запас не определён
		return 1
	}
	if left <= 0 {
		return 0
	}
	return left / span
}

// LiquidationPrice - приблизительная цена ликвидации изолированной позиции
//
// Для long: entry * (1 - 1/lev + mmr), для short: entry * (1 + 1/lev - mmr).
// mmr - maintenance margin rate (доля, например 0.005).
func LiquidationPrice(entry, leverage, mmr float64, long bool) float64 {
	if entry <= 0 || leverage <= 0 {
		return 0
	}
	if long {
		return entry * (1 - 1/leverage + mmr)
	}
	return entry * (1 + 1/leverage - mmr)
}

// QuantityForNotional переводит номинал в количество контрактов,
// округляя ВНИЗ до шага lotSize (не превышаем заявленный номинал).
func QuantityForNotional(notional, price, lotSize decimal.Decimal) decimal.Decimal {
	if price.Sign() <= 0 {
		return decimal.Zero
	}
	qty := notional.Div(price)
	return RoundToLotSize(qty, lotSize)
}

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Если lotSize <= 0, возвращает исходное значение.
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(100.5, 1) = 100
func RoundToLotSize(value, lotSize decimal.Decimal) decimal.Decimal {
	if lotSize.Sign() <= 0 {
		return value
	}
	return value.Div(lotSize).Floor().Mul(lotSize)
}

// RealizedPnl - реализованный PnL для закрытой позиции в валюте котировки
func RealizedPnl(entry, exit, qty decimal.Decimal, long bool) decimal.Decimal {
	diff := exit.Sub(entry)
	if !long {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}
