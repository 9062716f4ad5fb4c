package rpc

import (
	"testing"
	"time"

	"github.com/pkt-cash/pktd/btcutil/er"
)

func TestClassifyNotFoundIsChainInconsistency(t *testing.T) {
	raw := er.Errorf("-5: No information available about transaction")
	got := classify(raw)
	if !ChainInconsistency.Is(got) {
		t.Fatalf("expected ChainInconsistency, got %v", got)
	}
}

func TestClassifyOtherIsUpstreamUnavailable(t *testing.T) {
	raw := er.Errorf("connection reset by peer")
	got := classify(raw)
	if !UpstreamUnavailable.Is(got) {
		t.Fatalf("expected UpstreamUnavailable, got %v", got)
	}
}

func TestClassifyNilIsNil(t *testing.T) {
	if classify(nil) != nil {
		t.Fatal("expected nil to classify as nil")
	}
}

func TestDialUnreachableHostStaysDisconnectedWithoutPanicking(t *testing.T) {
	c, err := Dial(Config{
		Host:            "127.0.0.1:1",
		ReconnectPeriod: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Dial should not fail synchronously: %v", err)
	}
	defer c.Close()

	if _, err := c.Height(); err == nil {
		t.Fatal("expected an error querying height against an unreachable host")
	} else if !UpstreamUnavailable.Is(err) {
		t.Fatalf("expected UpstreamUnavailable, got %v", err)
	}
}
