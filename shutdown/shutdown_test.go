package shutdown

import (
	"context"
	"testing"
	"time"
)

func TestWaitReturnsNilWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if s := Wait(ctx); s != nil {
		t.Fatalf("got signal %v", s)
	}
}

func TestSignalsIncludeInterrupt(t *testing.T) {
	if len(signals) == 0 || signals[0].String() != "interrupt" {
		t.Fatalf("signals = %v", signals)
	}
}
