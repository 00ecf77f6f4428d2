package embeddings

import (
	"context"
	"errors"
	"sync"
)

// ErrBatcherClosed is returned when Embed is called after Close.
var ErrBatcherClosed = errors.New("embedding batcher closed")

// Batcher coalesces concurrent embedding requests into single batch calls
// against the underlying provider. Embedding is CPU/accelerator-bound, so
// one model pass over a merged batch is cheaper than many small passes, and
// callers waiting on unrelated work are never blocked behind each other's
// model calls.
type Batcher struct {
	provider  Provider
	batchSize int

	queue chan *batchRequest
	stop  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type batchRequest struct {
	ctx   context.Context
	texts []string
	out   chan batchResult
}

type batchResult struct {
	vectors [][]float32
	err     error
}

// NewBatcher creates a batcher over provider and starts its worker.
// batchSize bounds how many texts are merged into one provider call.
func NewBatcher(provider Provider, batchSize int) *Batcher {
	if batchSize <= 0 {
		batchSize = 32
	}
	b := &Batcher{
		provider:  provider,
		batchSize: batchSize,
		queue:     make(chan *batchRequest, 64),
		stop:      make(chan struct{}),
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

// Embed queues texts for embedding and waits for the batch containing them
// to complete. Returns one vector per input text, in order.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBatcherClosed
	}
	req := &batchRequest{ctx: ctx, texts: texts, out: make(chan batchResult, 1)}
	b.mu.Unlock()

	select {
	case b.queue <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.stop:
		return nil, ErrBatcherClosed
	}

	select {
	case res := <-req.out:
		return res.vectors, res.err
	case <-ctx.Done():
		// The worker will still complete the batch; the result is
		// discarded. Index state is only mutated by the caller after a
		// successful return, so abandonment cannot corrupt it.
		return nil, ctx.Err()
	}
}

// Close stops the worker. Pending requests receive ErrBatcherClosed.
func (b *Batcher) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stop)
	b.wg.Wait()
	return nil
}

func (b *Batcher) worker() {
	defer b.wg.Done()
	for {
		var first *batchRequest
		select {
		case first = <-b.queue:
		case <-b.stop:
			b.drainPending()
			return
		}

		batch := []*batchRequest{first}
		total := len(first.texts)

		// Merge whatever else is already queued, up to the batch size.
	merge:
		for total < b.batchSize {
			select {
			case req := <-b.queue:
				batch = append(batch, req)
				total += len(req.texts)
			default:
				break merge
			}
		}

		b.flush(batch)
	}
}

func (b *Batcher) flush(batch []*batchRequest) {
	select {
	case <-b.stop:
		for _, req := range batch {
			req.out <- batchResult{err: ErrBatcherClosed}
		}
		return
	default:
	}

	// Callers that gave up before the flush are dropped here, so a batch
	// of abandoned requests never burns a model pass.
	live := make([]*batchRequest, 0, len(batch))
	for _, req := range batch {
		if err := req.ctx.Err(); err != nil {
			req.out <- batchResult{err: err}
			continue
		}
		live = append(live, req)
	}
	if len(live) == 0 {
		return
	}

	texts := make([]string, 0, b.batchSize)
	for _, req := range live {
		texts = append(texts, req.texts...)
	}

	// The merged batch carries texts from several callers, so one caller's
	// deadline must not cancel the others mid-pass.
	vectors, err := b.provider.EmbedDocuments(context.Background(), texts)
	if err != nil {
		for _, req := range live {
			req.out <- batchResult{err: err}
		}
		return
	}

	offset := 0
	for _, req := range live {
		req.out <- batchResult{vectors: vectors[offset : offset+len(req.texts)]}
		offset += len(req.texts)
	}
}

// BatchedProvider wraps a provider so document embeds flow through a
// Batcher while queries go straight to the model. It satisfies Provider,
// so the rest of the system need not know batching is happening.
type BatchedProvider struct {
	Provider
	batcher *Batcher
}

// NewBatchedProvider wraps provider with a batcher of the given size.
func NewBatchedProvider(provider Provider, batchSize int) *BatchedProvider {
	return &BatchedProvider{
		Provider: provider,
		batcher:  NewBatcher(provider, batchSize),
	}
}

// EmbedDocuments routes through the batcher.
func (p *BatchedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return p.batcher.Embed(ctx, texts)
}

// Close stops the batcher, then the underlying provider.
func (p *BatchedProvider) Close() error {
	if err := p.batcher.Close(); err != nil {
		return err
	}
	return p.Provider.Close()
}

func (b *Batcher) drainPending() {
	for {
		select {
		case req := <-b.queue:
			req.out <- batchResult{err: ErrBatcherClosed}
		default:
			return
		}
	}
}
