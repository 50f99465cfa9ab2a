package risk

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCode struct {
	code []byte
	err  error
}

func (c fakeCode) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return c.code, c.err
}

type fakeFeed struct {
	report *Report
	err    error
}

func (f fakeFeed) Report(context.Context, Target) (*Report, error) {
	return f.report, f.err
}

const evmAddr = "0x1111111111111111111111111111111111111111"

func TestDetectPumpAndDump(t *testing.T) {
	pump := []Trade{
		{Type: "BUY", Value: 100, Price: 1},
		{Type: "SELL", Value: 250, Price: 1.6},
	}
	assert.True(t, DetectPumpAndDump(pump, 50))

	smallSell := []Trade{
		{Type: "BUY", Value: 100, Price: 1},
		{Type: "SELL", Value: 150, Price: 1.6},
	}
	assert.False(t, DetectPumpAndDump(smallSell, 50))

	slowRise := []Trade{
		{Type: "BUY", Value: 100, Price: 1},
		{Type: "SELL", Value: 500, Price: 1.4},
	}
	assert.False(t, DetectPumpAndDump(slowRise, 50))
	assert.False(t, DetectPumpAndDump(nil, 50))
}

func TestDetectFlashLoan(t *testing.T) {
	var trades []Trade
	for b := uint64(1); b <= 20; b++ {
		trades = append(trades, Trade{Block: b, Value: 10})
	}
	assert.False(t, DetectFlashLoan(trades, 10))

	// 220 при среднем (200+220)/21 = 20
	spiked := append(trades, Trade{Block: 21, Value: 220})
	assert.True(t, DetectFlashLoan(spiked, 10))
	assert.False(t, DetectFlashLoan(nil, 10))
}

func TestFraudProbe_SumsAndCapsFlags(t *testing.T) {
	no := false
	feed := fakeFeed{report: &Report{
		Sellable: &no,
		Trades: []Trade{
			{Type: "BUY", Value: 100, Price: 1},
			{Type: "SELL", Value: 300, Price: 2},
		},
	}}
	p := NewFraudProbe(FraudConfig{}, feed, map[string]CodeReader{"ethereum": fakeCode{}})

	r, err := p.Score(context.Background(), Target{Chain: "ethereum", Address: evmAddr})
	require.NoError(t, err)
	assert.Equal(t, 100.0, r.Value)
	assert.Equal(t, []string{
		"No verified contract code found",
		"Cannot sell token (possible honeypot)",
		"Pump and dump pattern detected",
	}, r.Reasons)
}

func TestFraudProbe_CodeOnly(t *testing.T) {
	codes := map[string]CodeReader{"ethereum": fakeCode{code: []byte{0x60, 0x80}}}
	p := NewFraudProbe(FraudConfig{}, nil, codes)

	r, err := p.Score(context.Background(), Target{Chain: "ethereum", Address: evmAddr})
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Value)
	assert.Empty(t, r.Reasons)
}

func TestFraudProbe_NoSourcesIsUnknown(t *testing.T) {
	codes := map[string]CodeReader{"ethereum": fakeCode{err: errors.New("rpc down")}}
	p := NewFraudProbe(FraudConfig{}, fakeFeed{err: ErrProbeUnavailable}, codes)

	_, err := p.Score(context.Background(), Target{Chain: "ethereum", Address: evmAddr})
	assert.ErrorIs(t, err, ErrProbeUnavailable)

	// адрес не EVM: RPC не вызывается
	_, err = p.Score(context.Background(), Target{Chain: "solana", Address: "So11111111111111111111111111111111111111112"})
	assert.ErrorIs(t, err, ErrProbeUnavailable)
}
