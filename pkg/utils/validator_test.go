package utils

import (
	"testing"
)

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{"valid BTCUSDT", "BTCUSDT", false},
		{"valid lowercase", "btcusdt", false},
		{"valid with hyphen", "BTC-USDT", false},
		{"valid with slash", "BTC/USDT", false},
		{"valid with numbers", "1INCH", false},

		{"empty", "", true},
		{"single char", "B", true},
		{"too long", "BTCUSDTBTCUSDTBTCUSDTBTCUSDTXXX", true},
		{"special chars", "BTC@USDT", true},
		{"spaces", "BTC USDT", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeSymbol(t *testing.T) {
	tests := map[string]string{
		"btcusdt":  "BTCUSDT",
		"btc-usdt": "BTCUSDT",
		"BTC_USDT": "BTCUSDT",
		"btc/usdt": "BTCUSDT",
		"Btc-Usdt": "BTCUSDT",
	}
	for input, want := range tests {
		if got := NormalizeSymbol(input); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestValidateInstrument(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"BTCUSDT", false},
		{"0x6B175474E89094C44Da98b954EedeAC495271d0F", false},
		{"So11111111111111111111111111111111111111112", false},
		{"", true},
		{"$$$", true},
	}

	for _, tt := range tests {
		err := ValidateInstrument(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateInstrument(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}

func TestValidatePercent(t *testing.T) {
	if err := ValidatePercent("take_profit", 50, 1000); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePercent("take_profit", 0, 1000); err == nil {
		t.Error("expected error for zero")
	}
	if err := ValidatePercent("stop_loss", 1001, 1000); err == nil {
		t.Error("expected error above max")
	}
}

func TestExtractTokenAddress(t *testing.T) {
	const sol = "So11111111111111111111111111111111111111112"
	const evm = "0x6B175474E89094C44Da98b954EedeAC495271d0F"

	tests := []struct {
		name    string
		input   string
		chain   string
		address string
	}{
		{"birdeye with chain", "https://birdeye.so/token/" + sol + "?chain=solana", "solana", sol},
		{"birdeye without chain", "https://birdeye.so/token/" + evm, "ethereum", evm},
		{"dexscreener", "https://dexscreener.com/solana/" + sol, "solana", sol},
		{"dexscreener bsc", "https://dexscreener.com/bsc/" + evm + "?ref=x", "bsc", evm},
		{"bare solana address", sol, "solana", sol},
		{"bare evm address", evm, "ethereum", evm},
		{"plain symbol", "BTCUSDT", "", "BTCUSDT"},
		{"unknown url", "https://example.com/token/abc", "", "https://example.com/token/abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := ExtractTokenAddress(tt.input)
			if ref.Chain != tt.chain || ref.Address != tt.address {
				t.Errorf("ExtractTokenAddress(%q) = %+v, want {%s %s}", tt.input, ref, tt.chain, tt.address)
			}
		})
	}
}

func TestTokenRef_IsAddress(t *testing.T) {
	if (TokenRef{Address: "BTCUSDT"}).IsAddress() {
		t.Error("symbol must not be treated as address")
	}
	if !(TokenRef{Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F"}).IsAddress() {
		t.Error("evm address not detected")
	}
}
