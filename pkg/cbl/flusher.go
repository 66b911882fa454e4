// Copyright © 2024 OpenIM. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cbl

import (
	"context"
	"time"

	"github.com/openimsdk/tools/errs"
	"github.com/openimsdk/tools/log"
	"github.com/openimsdk/tools/utils/idutil"
)

// flusher periodically detaches the write buffer and applies it to the
// backend via a single doBulk call, mirroring the ticker/scheduler loop of
// pkg/tools/batcher.Batcher: a ticker drives periodic aggregation, and
// Close cancels the loop and waits for it to drain before returning.
//
// Unlike Batcher, a flusher has exactly one "worker" (the CBL's single
// logical executor, spec §5) and no size-triggered early flush — the CBL
// owns the only other trigger (write-through on WithWriteInterval(0) or an
// explicit Shutdown flush).
type flusher struct {
	interval time.Duration
	flushFn  func(ctx context.Context, triggerID string)

	cancel context.CancelFunc
	done   chan struct{}
}

func newFlusher(interval time.Duration, flushFn func(ctx context.Context, triggerID string)) *flusher {
	return &flusher{interval: interval, flushFn: flushFn}
}

// start launches the ticker loop. A zero interval means write-through mode
// and start is a no-op: the CBL itself triggers a flush after every
// buffered write instead.
func (f *flusher) start(ctx context.Context) {
	if f.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.run(ctx)
}

func (f *flusher) run(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.flushFn(ctx, idutil.OperationIDGenerator())
		}
	}
}

// stop cancels the ticker loop and waits for the in-flight flush, if any,
// to return. It does not itself flush the remaining buffer; callers flush
// once more after stop returns (spec §4.1, flusher protocol's shutdown
// note).
func (f *flusher) stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
}

// retryPolicy, if configured, governs what happens to a detached batch
// that doBulk failed to apply. The default (nil) behavior is terminal: the
// batch's write-completed callbacks all fire with the backend's error and
// the keys are not restored to the live buffer (spec §7, design note:
// "the layer does not retry automatically"). A configured retryPolicy
// instead retries the same detached batch with backoff; any keys written
// again in the meantime sit in the *live* buffer and flush on a later,
// independent cycle, so a newer write is never clobbered by a stale retry.
type retryPolicy struct {
	maxAttempts int
	backoff     func(attempt int) time.Duration
}

// WithRetryPolicy opts a CBL into retrying a failed flush batch up to
// maxAttempts times (in addition to the first attempt), sleeping
// backoff(attempt) between tries. Without this option a flush failure is
// terminal: see retryPolicy's doc comment.
func WithRetryPolicy(maxAttempts int, backoff func(attempt int) time.Duration) Option {
	return func(c *config) {
		if maxAttempts <= 0 || backoff == nil {
			return
		}
		c.retry = &retryPolicy{maxAttempts: maxAttempts, backoff: backoff}
	}
}

// runWithRetry applies fn, retrying per rp (if non-nil) on error. It sleeps
// on ctx via a timer so a canceled context aborts the wait early.
func runWithRetry(ctx context.Context, rp *retryPolicy, fn func() error) error {
	err := fn()
	if err == nil || rp == nil {
		return err
	}
	for attempt := 1; attempt <= rp.maxAttempts; attempt++ {
		d := rp.backoff(attempt)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return errs.WrapMsg(err, "cbl: flush retry aborted", "cause", ctx.Err().Error())
		case <-t.C:
		}
		err = fn()
		if err == nil {
			return nil
		}
	}
	return err
}

// logFlushResult is the one log line a flush cycle emits, in the teacher's
// structured-field style (openimsdk/tools/log).
func logFlushResult(ctx context.Context, triggerID string, ops int, err error) {
	if err != nil {
		log.ZError(ctx, "cbl: flush failed", err, "triggerID", triggerID, "ops", ops)
		return
	}
	if ops > 0 {
		log.ZDebug(ctx, "cbl: flush ok", "triggerID", triggerID, "ops", ops)
	}
}
