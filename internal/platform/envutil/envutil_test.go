package envutil

import (
	"testing"
	"time"
)

func TestReaders(t *testing.T) {
	t.Setenv("VC_INT", "12")
	t.Setenv("VC_BAD_INT", "x")
	t.Setenv("VC_BOOL", "yes")
	t.Setenv("VC_FLOAT", "0.3")
	t.Setenv("VC_SEC", "5")
	t.Setenv("VC_CSV", " a, ,b ")

	if got := Int("VC_INT", 1); got != 12 {
		t.Fatalf("Int: want=12 got=%d", got)
	}
	if got := Int("VC_BAD_INT", 7); got != 7 {
		t.Fatalf("Int fallback: want=7 got=%d", got)
	}
	if !Bool("VC_BOOL", false) {
		t.Fatalf("Bool: want=true")
	}
	if Bool("VC_MISSING", false) {
		t.Fatalf("Bool default: want=false")
	}
	if got := Float("VC_FLOAT", 0); got != 0.3 {
		t.Fatalf("Float: want=0.3 got=%v", got)
	}
	if got := Seconds("VC_SEC", time.Second); got != 5*time.Second {
		t.Fatalf("Seconds: want=5s got=%v", got)
	}
	if got := CSV("VC_CSV"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("CSV: got=%v", got)
	}
	if got := String("VC_MISSING", "def"); got != "def" {
		t.Fatalf("String: want=def got=%q", got)
	}
}
