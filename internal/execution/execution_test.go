package execution

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPaperSubmitAppliesSlippage(t *testing.T) {
	exec := NewPaper(10, zerolog.Nop()) // 10 bps
	ts := time.Now()

	buy, err := exec.Submit(Order{Symbol: "BTCUSDT", Side: Buy, Qty: 1, Price: 10000, Reason: ReasonSignal, Ts: ts})
	if err != nil {
		t.Fatalf("buy rejected: %v", err)
	}
	if math.Abs(buy.Price-10010) > 1e-9 {
		t.Fatalf("buy should slip up to 10010, got %.4f", buy.Price)
	}

	sell, err := exec.Submit(Order{Symbol: "BTCUSDT", Side: Sell, Qty: 1, Price: 10000, Reason: ReasonStop, Ts: ts})
	if err != nil {
		t.Fatalf("sell rejected: %v", err)
	}
	if math.Abs(sell.Price-9990) > 1e-9 {
		t.Fatalf("sell should slip down to 9990, got %.4f", sell.Price)
	}
	if sell.Reason != ReasonStop {
		t.Fatalf("fill must carry order reason, got %s", sell.Reason)
	}
}

func TestPaperSubmitRejectsBadOrders(t *testing.T) {
	exec := NewPaper(0, zerolog.Nop())

	_, err := exec.Submit(Order{Symbol: "BTCUSDT", Side: Buy, Qty: 0, Price: 100})
	var oerr *OrderError
	if !errors.As(err, &oerr) {
		t.Fatalf("expected *OrderError for zero qty, got %v", err)
	}

	_, err = exec.Submit(Order{Symbol: "BTCUSDT", Side: Buy, Qty: 1, Price: 0})
	if !errors.As(err, &oerr) {
		t.Fatalf("expected *OrderError for zero price, got %v", err)
	}
}
