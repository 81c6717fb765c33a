package memory

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Set(ctx, "stories:feed:50", []byte("payload"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, found, err := s.Get(ctx, "stories:feed:50")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("key not found after Set")
	}
	if !bytes.Equal(v, []byte("payload")) {
		t.Errorf("Get = %q; want %q", v, "payload")
	}

	_, found, err = s.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if found {
		t.Error("missing key reported found")
	}
}

func TestStore_CopiesPayloads(t *testing.T) {
	ctx := context.Background()
	s := New()

	in := []byte("original")
	if err := s.Set(ctx, "k", in, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	in[0] = 'X'

	out, _, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(out) != "original" {
		t.Errorf("stored payload mutated through caller slice: %q", out)
	}
	out[0] = 'Y'

	again, _, _ := s.Get(ctx, "k")
	if string(again) != "original" {
		t.Errorf("stored payload mutated through returned slice: %q", again)
	}
}

func TestStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Set(ctx, "fleeting", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, found, _ := s.Get(ctx, "fleeting"); !found {
		t.Fatal("entry missing before TTL elapsed")
	}

	time.Sleep(40 * time.Millisecond)
	if _, found, _ := s.Get(ctx, "fleeting"); found {
		t.Error("entry readable after TTL elapsed")
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("Len = %d after lazy expiry; want 0", n)
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("key readable after Delete")
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete absent key: %v", err)
	}
}

func TestStore_ScanPrefix(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, k := range []string{"stories:feed:50", "stories:user:U1", "posts:detail:P1"} {
		if err := s.Set(ctx, k, []byte("v"), 0); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	if err := s.Set(ctx, "stories:user:U2", []byte("v"), time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	keys, err := s.ScanPrefix(ctx, "stories:")
	if err != nil {
		t.Fatalf("ScanPrefix: %v", err)
	}
	slices.Sort(keys)
	want := []string{"stories:feed:50", "stories:user:U1"}
	if !slices.Equal(keys, want) {
		t.Errorf("ScanPrefix = %v; want %v (expired keys excluded)", keys, want)
	}
}

func TestStore_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, k := range []string{"stories:feed:50", "stories:user:U1", "posts:detail:P1"} {
		if err := s.Set(ctx, k, []byte("v"), 0); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	n, err := s.DeletePrefix(ctx, "stories:")
	if err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if n != 2 {
		t.Errorf("DeletePrefix removed %d; want 2", n)
	}
	if _, found, _ := s.Get(ctx, "posts:detail:P1"); !found {
		t.Error("unrelated key removed")
	}
}

func TestStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Set(ctx, "old", []byte("v"), time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "live", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "pinned", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	n, err := s.Cleanup(ctx, 0)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("Cleanup removed %d; want 1", n)
	}
	if _, found, _ := s.Get(ctx, "live"); !found {
		t.Error("live entry removed by Cleanup")
	}
	if _, found, _ := s.Get(ctx, "pinned"); !found {
		t.Error("entry without expiry removed by Cleanup")
	}
}

func TestStore_Flush(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, []byte("v"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	n, err := s.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 3 {
		t.Errorf("Flush removed %d; want 3", n)
	}
	if got, _ := s.Len(ctx); got != 0 {
		t.Errorf("Len = %d after Flush; want 0", got)
	}
}

func TestStore_ValidateKey(t *testing.T) {
	s := New()
	if err := s.ValidateKey("stories:feed:50"); err != nil {
		t.Errorf("ValidateKey: %v", err)
	}
	if err := s.ValidateKey(""); err == nil {
		t.Error("empty key accepted")
	}
	if err := s.ValidateKey(strings.Repeat("k", maxKeyLength+1)); err == nil {
		t.Error("oversized key accepted")
	}
}
