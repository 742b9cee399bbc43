package supervise

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/danmuck/webuictl/internal/testutil/testlog"
)

func TestLogRingEvictsOldest(t *testing.T) {
	testlog.Start(t)
	r := newLogRing(3)
	for i := 1; i <= 5; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}
	got := r.Tail(10)
	want := []string{"line 3", "line 4", "line 5"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tail mismatch: got=%v want=%v", got, want)
	}
	if r.Len() != 3 {
		t.Fatalf("len: %d", r.Len())
	}
}

func TestLogRingTailSubset(t *testing.T) {
	testlog.Start(t)
	r := newLogRing(10)
	for i := 1; i <= 4; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}
	got := r.Tail(2)
	want := []string{"line 3", "line 4"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tail mismatch: got=%v want=%v", got, want)
	}
}

func TestLogRingEmpty(t *testing.T) {
	testlog.Start(t)
	r := newLogRing(4)
	if got := r.Tail(3); got != nil {
		t.Fatalf("expected nil tail, got %v", got)
	}
}
