package snowflake

import (
	"testing"
	"time"
)

func TestGenerate_Unique(t *testing.T) {
	g, err := NewGenerator(1)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		id := g.Generate()
		if seen[id] {
			t.Fatalf("duplicate id %s at iteration %d", id, i)
		}
		seen[id] = true
	}
}

func TestGenerate_Ordered(t *testing.T) {
	g, err := NewGenerator(0)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	prev := g.Generate()
	for i := 0; i < 1000; i++ {
		id := g.Generate()
		if id <= prev {
			t.Fatalf("id %s not greater than previous %s", id, prev)
		}
		prev = id
	}
}

func TestNewGenerator_InvalidNode(t *testing.T) {
	if _, err := NewGenerator(-1); err == nil {
		t.Error("expected error for negative nodeID")
	}
	if _, err := NewGenerator(1024); err == nil {
		t.Error("expected error for nodeID > 1023")
	}
}

func TestTimestamp_RoundTrip(t *testing.T) {
	g, _ := NewGenerator(3)
	before := time.Now().Truncate(time.Millisecond)
	id := g.Generate()
	after := time.Now()

	ts := Timestamp(id)
	if ts.Before(before) || ts.After(after) {
		t.Errorf("embedded timestamp %v outside [%v, %v]", ts, before, after)
	}
}

func TestTimestamp_Invalid(t *testing.T) {
	if !Timestamp("not-a-number").IsZero() {
		t.Error("expected zero time for unparseable id")
	}
}
