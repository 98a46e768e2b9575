// pager.go defines the lazy forward-only page sequence every paginated
// fetcher exposes. The caller pulls batches one at a time and decides when
// to stop; the adapter never buffers the whole result set.
package sources

import "context"

// Pager is a lazy sequence of page batches. Next returns the next batch,
// or (nil, false, nil) once the sequence is exhausted. Total reports the
// server-declared total where the upstream provides one (-1 otherwise);
// it may only be accurate after the first Next call.
type Pager[T any] interface {
	Next(ctx context.Context) (batch []T, ok bool, err error)
	Total() int
}

// pageFunc adapts a fetch-one-page closure into a Pager. The closure
// receives the running offset and returns the batch plus the server total.
type pageFunc[T any] struct {
	fetch    func(ctx context.Context, offset int) ([]T, int, error)
	pageSize int
	offset   int
	total    int
	done     bool
}

// NewPager builds a Pager from a single-page fetch function. The sequence
// ends when a fetched batch is shorter than pageSize.
func NewPager[T any](pageSize int, fetch func(ctx context.Context, offset int) ([]T, int, error)) Pager[T] {
	return &pageFunc[T]{fetch: fetch, pageSize: pageSize, total: -1}
}

func (p *pageFunc[T]) Next(ctx context.Context) ([]T, bool, error) {
	if p.done {
		return nil, false, nil
	}
	batch, total, err := p.fetch(ctx, p.offset)
	if err != nil {
		return nil, false, err
	}
	if total >= 0 {
		p.total = total
	}
	p.offset += len(batch)
	if len(batch) < p.pageSize {
		p.done = true
	}
	if len(batch) == 0 {
		return nil, false, nil
	}
	return batch, true, nil
}

func (p *pageFunc[T]) Total() int { return p.total }
