package kstore

import "testing"

func TestKeyLayout(t *testing.T) {
	if got := MetadataKey("c1", "s1"); got != "sub:c1:s1" {
		t.Fatalf("MetadataKey = %q", got)
	}
	if got := ConnSetKey("c1"); got != "sub:conn:c1" {
		t.Fatalf("ConnSetKey = %q", got)
	}
	if got := IndexKindKey(1); got != "sub:index:kind:1" {
		t.Fatalf("IndexKindKey = %q", got)
	}
	if got := IndexAuthorKey("A"); got != "sub:index:author:A" {
		t.Fatalf("IndexAuthorKey = %q", got)
	}
	if got := IndexTagKey("e", "E1"); got != "sub:index:tag:e:E1" {
		t.Fatalf("IndexTagKey = %q", got)
	}
	if got := IndexAllKey(); got != "sub:index:all" {
		t.Fatalf("IndexAllKey = %q", got)
	}
	if got := ResponseListKey("c1"); got != "resp:c1" {
		t.Fatalf("ResponseListKey = %q", got)
	}
}
