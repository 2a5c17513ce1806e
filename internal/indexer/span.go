package indexer

import "fmt"

// Span is an inclusive block window fetched with one log query.
type Span struct {
	From uint64
	To   uint64
}

// CatchUp splits the blocks from next through head into spans of at most
// batch blocks. Nothing is returned once next is past head.
func CatchUp(next, head, batch uint64) ([]Span, error) {
	if batch == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if next > head {
		return nil, nil
	}

	spans := make([]Span, 0, (head-next)/batch+1)
	for start := next; ; start += batch {
		end := start + batch - 1
		if end > head || end < start {
			end = head
		}
		spans = append(spans, Span{From: start, To: end})
		if end == head {
			return spans, nil
		}
	}
}
