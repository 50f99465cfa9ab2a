package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// validator.go - проверка входных данных кандидатов на сделку

var (
	symbolRe  = regexp.MustCompile(`^[A-Za-z0-9\-_/]{2,30}$`)
	base58Re  = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	symbolSep = strings.NewReplacer("-", "", "_", "", "/", "")
)

// ValidateSymbol проверяет формат торгового символа (BTCUSDT, BTC-USDT, BTC/USDT)
func ValidateSymbol(symbol string) error {
	if !symbolRe.MatchString(symbol) {
		return fmt.Errorf("invalid symbol %q", symbol)
	}
	return nil
}

// NormalizeSymbol приводит символ к виду площадки: BTC-USDT -> BTCUSDT
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(symbolSep.Replace(symbol))
}

// IsEVMAddress - адрес контракта EVM-сети (0x + 40 hex)
func IsEVMAddress(s string) bool {
	return common.IsHexAddress(s) && strings.HasPrefix(s, "0x")
}

// IsBase58Address - адрес токена в base58 (Solana mint)
func IsBase58Address(s string) bool {
	return base58Re.MatchString(s)
}

// ValidateInstrument принимает торговый символ или адрес токена
func ValidateInstrument(instrument string) error {
	if instrument == "" {
		return fmt.Errorf("instrument is required")
	}
	if IsEVMAddress(instrument) || IsBase58Address(instrument) {
		return nil
	}
	return ValidateSymbol(instrument)
}

// ValidatePercent проверяет что значение в диапазоне (0, max]
func ValidatePercent(name string, v, max float64) error {
	if v <= 0 || v > max {
		return fmt.Errorf("%s must be in (0, %g], got %g", name, max, v)
	}
	return nil
}

// TokenRef - адрес токена, извлечённый из ввода пользователя
type TokenRef struct {
	Chain   string
	Address string
}

// ExtractTokenAddress извлекает адрес токена из ссылки или возвращает ввод как есть.
//
// Поддерживаются:
//   - https://birdeye.so/token/<addr>?chain=<chain>
//   - https://dexscreener.com/<chain>/<addr>
//
// Для голого адреса сеть определяется по формату: 0x... -> ethereum, base58 -> solana.
func ExtractTokenAddress(input string) TokenRef {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "http") {
		if u, err := url.Parse(input); err == nil {
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			host := strings.TrimPrefix(u.Host, "www.")
			switch {
			case host == "birdeye.so" && len(parts) >= 2 && parts[0] == "token":
				chain := u.Query().Get("chain")
				if chain == "" {
					chain = chainOf(parts[1])
				}
				return TokenRef{Chain: chain, Address: parts[1]}
			case host == "dexscreener.com" && len(parts) >= 2:
				return TokenRef{Chain: parts[0], Address: parts[1]}
			}
		}
	}
	return TokenRef{Chain: chainOf(input), Address: input}
}

func chainOf(addr string) string {
	switch {
	case IsEVMAddress(addr):
		return "ethereum"
	case IsBase58Address(addr):
		return "solana"
	default:
		return ""
	}
}

// IsAddress - является ли ссылка адресом токена (а не символом)
func (r TokenRef) IsAddress() bool {
	return IsEVMAddress(r.Address) || IsBase58Address(r.Address)
}
