package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestSignedURLCacheHitAndMiss(t *testing.T) {
	c := NewSignedURLCache(Config{})

	key := Key("project-files", "proj-1/photo.jpg")
	if _, ok := c.Get(key); ok {
		t.Fatal("expected a miss on an empty cache")
	}

	c.Set(key, "https://storage.example.com/signed/photo.jpg")
	url, ok := c.Get(key)
	if !ok {
		t.Fatal("expected a hit after Set")
	}
	if url != "https://storage.example.com/signed/photo.jpg" {
		t.Errorf("url = %q", url)
	}
}

func TestSignedURLCacheExpiry(t *testing.T) {
	c := NewSignedURLCache(Config{TTL: time.Millisecond})

	key := Key("project-files", "proj-1/photo.jpg")
	c.Set(key, "https://storage.example.com/signed/photo.jpg")
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(key); ok {
		t.Fatal("expected the entry to expire")
	}
}

func TestSignedURLCacheEvictsOldest(t *testing.T) {
	c := NewSignedURLCache(Config{MaxEntries: 3})

	for i := 0; i < 3; i++ {
		c.Set(Key("b", fmt.Sprintf("object-%d", i)), fmt.Sprintf("url-%d", i))
		time.Sleep(time.Millisecond)
	}
	c.Set(Key("b", "object-3"), "url-3")

	if _, ok := c.Get(Key("b", "object-0")); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := c.Get(Key("b", "object-3")); !ok {
		t.Error("newest entry missing")
	}
}
