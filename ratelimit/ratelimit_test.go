package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New(3, time.Second)
	defer l.Close()

	for i := 0; i < 3; i++ {
		if !l.Allow("client-a") {
			t.Fatalf("request %d denied under the limit", i)
		}
	}
	if l.Allow("client-a") {
		t.Fatal("request over the limit allowed")
	}
	// other keys have their own budget
	if !l.Allow("client-b") {
		t.Fatal("unrelated key denied")
	}
}

func TestWindowSlides(t *testing.T) {
	l := New(2, 50*time.Millisecond)
	defer l.Close()

	l.Allow("client-a")
	l.Allow("client-a")
	if l.Allow("client-a") {
		t.Fatal("third request within window allowed")
	}

	time.Sleep(80 * time.Millisecond)
	if !l.Allow("client-a") {
		t.Fatal("request denied after window expired")
	}
}
