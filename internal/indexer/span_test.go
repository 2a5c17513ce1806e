package indexer

import (
	"math"
	"reflect"
	"testing"
)

func TestCatchUp(t *testing.T) {
	tests := []struct {
		name  string
		next  uint64
		head  uint64
		batch uint64
		want  []Span
	}{
		{
			name: "resume after checkpoint", next: 15, head: 19, batch: 2,
			want: []Span{{From: 15, To: 16}, {From: 17, To: 18}, {From: 19, To: 19}},
		},
		{
			name: "gap smaller than batch", next: 100, head: 103, batch: 1000,
			want: []Span{{From: 100, To: 103}},
		},
		{
			name: "single new block", next: 7, head: 7, batch: 5,
			want: []Span{{From: 7, To: 7}},
		},
		{
			name: "already at head", next: 21, head: 20, batch: 5,
		},
		{
			name: "near max block", next: math.MaxUint64 - 2, head: math.MaxUint64, batch: 2,
			want: []Span{{From: math.MaxUint64 - 2, To: math.MaxUint64 - 1}, {From: math.MaxUint64, To: math.MaxUint64}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CatchUp(tt.next, tt.head, tt.batch)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("spans mismatch: %+v != %+v", got, tt.want)
			}
		})
	}
}

func TestCatchUpRejectsZeroBatch(t *testing.T) {
	if _, err := CatchUp(1, 10, 0); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}
