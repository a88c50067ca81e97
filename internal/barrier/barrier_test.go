package barrier

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestBarrierWaitsForAllTokens(t *testing.T) {
	b := New(3)
	released := int32(0)

	tokens := []*Token{b.NewToken(), b.NewToken(), b.NewToken()}

	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()

	for _, tok := range tokens[:2] {
		tok.Release()
	}

	select {
	case <-done:
		t.Fatal("Wait returned before every token was released")
	case <-time.After(20 * time.Millisecond):
	}

	atomic.AddInt32(&released, 1)
	tokens[2].Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the last token was released")
	}
}

func TestTokenReleaseIsIdempotent(t *testing.T) {
	b := New(1)
	tok := b.NewToken()

	tok.Release()
	tok.Release() // must not panic or double-decrement

	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait never returned after a single token was (repeatedly) released")
	}
}

func TestZeroPartyBarrierDoesNotBlock(t *testing.T) {
	b := New(0)
	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a zero-party barrier should never block Wait")
	}
}
