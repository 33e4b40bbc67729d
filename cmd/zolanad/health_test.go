package main

import (
	"errors"
	"testing"

	"zolana/internal/chain"
)

type fakeChain struct {
	tip      chain.Block
	err      error
	verified int
}

func (f *fakeChain) LatestBlock() *chain.Block {
	b := f.tip
	return &b
}

func (f *fakeChain) VerifyChain() error {
	f.verified++
	return f.err
}

func TestChainCheckVerifiesOncePerTip(t *testing.T) {
	src := &fakeChain{tip: chain.Block{Index: 3, Hash: "aaa"}}
	c := &chainCheck{src: src}

	for i := 0; i < 5; i++ {
		status, msg, err := c.check()
		if err != nil || status != Healthy || msg != "height 3" {
			t.Fatalf("check = %s %q %v", status, msg, err)
		}
	}
	if src.verified != 1 {
		t.Fatalf("chain verified %d times for one tip, want 1", src.verified)
	}

	src.tip = chain.Block{Index: 4, Hash: "bbb"}
	src.err = errors.New("broken link")
	if status, _, err := c.check(); status != Unhealthy || err == nil {
		t.Fatalf("check after new tip = %s %v", status, err)
	}
	c.check()
	if src.verified != 2 {
		t.Fatalf("chain verified %d times, want 2", src.verified)
	}
}

func TestHealthCheckerAggregates(t *testing.T) {
	hc := NewHealthChecker("1.2.0")
	hc.RegisterComponent("b", func() (HealthStatus, string, error) { return Degraded, "slow", nil })
	hc.RegisterComponent("a", func() (HealthStatus, string, error) { return Healthy, "ok", nil })

	h := hc.CheckHealth()
	if h.OverallStatus != Degraded || h.Components[0].Name != "a" {
		t.Fatalf("health = %+v", h)
	}

	hc.RegisterComponent("c", func() (HealthStatus, string, error) { return Healthy, "", errors.New("down") })
	if h := hc.CheckHealth(); h.OverallStatus != Unhealthy {
		t.Fatalf("overall = %s, want unhealthy", h.OverallStatus)
	}
	if resp := CreateHealthResponse(hc.CheckHealth()); resp.Status != "error" {
		t.Fatalf("response status = %s", resp.Status)
	}
}
