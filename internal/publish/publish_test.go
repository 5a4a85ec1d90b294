package publish

import (
	"context"
	"testing"
)

func TestNewWithoutConfigIsNop(t *testing.T) {
	p, err := New(OBSConfig{Bucket: "media"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := p.(Nop); !ok {
		t.Fatalf("expected Nop publisher, got %T", p)
	}
	key, err := p.Publish(context.Background(), "/tmp/a.mp4")
	if err != nil || key != "" {
		t.Fatalf("nop publish should do nothing, got %q %v", key, err)
	}
}

func TestNewOBSRequiresConfig(t *testing.T) {
	if _, err := NewOBS(OBSConfig{Endpoint: "https://obs.example.com"}); err == nil {
		t.Fatalf("expected error for incomplete config")
	}
}

func TestObjectKey(t *testing.T) {
	o, err := NewOBS(OBSConfig{
		Endpoint:  "https://obs.example.com",
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "media",
		Prefix:    "/downloads/",
	})
	if err != nil {
		t.Fatalf("new obs: %v", err)
	}
	defer o.Close()

	if got := o.ObjectKey("/data/out/Song Title.mp3"); got != "downloads/Song Title.mp3" {
		t.Fatalf("unexpected key %q", got)
	}
	o.prefix = ""
	if got := o.ObjectKey("/data/out/clip.mp4"); got != "clip.mp4" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	o, err := NewOBS(OBSConfig{Endpoint: "https://obs.example.com", AccessKey: "ak", SecretKey: "sk", Bucket: "media"})
	if err != nil {
		t.Fatalf("new obs: %v", err)
	}
	defer o.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Publish(ctx, "/tmp/none.mp4"); err == nil {
		t.Fatalf("expected error on cancelled context")
	}
}
