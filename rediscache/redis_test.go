package rediscache

import (
	"context"
	"testing"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMockClientRoundTrip(t *testing.T) {
	c := NewMockClient()
	ctx := context.Background()

	found, _, err := c.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected miss on empty cache")
	}

	in := sample{Name: "a", Count: 3}
	if err := c.SetStruct(ctx, "k", &in, 0); err != nil {
		t.Fatalf("SetStruct: %v", err)
	}

	var out sample
	found, err = c.GetStruct(ctx, "k", &out)
	if err != nil {
		t.Fatalf("GetStruct: %v", err)
	}
	if !found || out != in {
		t.Fatalf("got %+v found=%v, want %+v", out, found, in)
	}

	if found, err := c.Delete(ctx, []string{"k"}); err != nil || !found {
		t.Fatalf("Delete: found=%v err=%v", found, err)
	}

	found, err = c.GetStruct(ctx, "k", &out)
	if err != nil {
		t.Fatalf("GetStruct after delete: %v", err)
	}
	if found {
		t.Fatal("expected miss after delete")
	}
}
