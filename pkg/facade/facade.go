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

// Package facade is the thin, public entry point described by spec §2:
// every value crossing the boundary is deep-cloned on the way in and out
// so a caller can never observe or corrupt the cache-and-buffer layer's
// internal state through aliasing, and every mutating call is dispatched
// through a per-key serializer (pkg/pks) before it reaches the
// cache-and-buffer layer (pkg/cbl).
package facade

import (
	"context"

	"github.com/openimsdk/tools/errs"

	"github.com/kvmesh/cbl/pkg/backend"
	"github.com/kvmesh/cbl/pkg/cbl"
	"github.com/kvmesh/cbl/pkg/pks"
	"github.com/kvmesh/cbl/pkg/value"
)

// Facade is the module's public surface. The zero value is not usable;
// construct with New.
type Facade struct {
	engine *cbl.CBL
	pks    *pks.Serializer
}

// New constructs a Facade over driver. Call Init before any other method.
func New(driver backend.Driver, opts ...cbl.Option) *Facade {
	return &Facade{
		engine: cbl.New(driver, opts...),
		pks:    pks.New(),
	}
}

// Init initializes the underlying backend and starts the flusher.
func (f *Facade) Init(ctx context.Context) error {
	return f.engine.Init(ctx)
}

// Get returns a deep clone of the current value for key. Reads are not
// routed through the per-key serializer: see cbl.CBL.Get's doc comment
// for why that is still correct.
func (f *Facade) Get(ctx context.Context, key string) (value.Value, bool, error) {
	v, found, err := f.engine.Get(ctx, key)
	if err != nil || !found {
		return nil, found, err
	}
	cv, err := value.Clone(v)
	if err != nil {
		return nil, false, errs.WrapMsg(err, "facade: get egress clone", "key", key)
	}
	return cv, true, nil
}

// GetSub returns a deep clone of the dotted-path sub-value at path within
// key's value.
func (f *Facade) GetSub(ctx context.Context, key string, path []string) (value.Value, bool, error) {
	v, found, err := f.engine.GetSub(ctx, key, path)
	if err != nil || !found {
		return nil, found, err
	}
	cv, err := value.Clone(v)
	if err != nil {
		return nil, false, errs.WrapMsg(err, "facade: getSub egress clone", "key", key)
	}
	return cv, true, nil
}

// Set buffers key=v under key's per-key slot. onBufferAccepted fires
// synchronously, before Set returns, with the outcome of buffering (spec
// §2's "buffer-accepted" callback); onWriteCompleted fires later, once a
// flush has applied or terminally failed to apply this write (spec §2's
// "write-completed" callback). v is deep-cloned before it ever reaches the
// cache-and-buffer layer, so the caller is free to mutate v after Set
// returns.
func (f *Facade) Set(ctx context.Context, key string, v value.Value, onBufferAccepted, onWriteCompleted func(error)) error {
	cv, err := value.Clone(v)
	if err != nil {
		err = errs.WrapMsg(err, "facade: set ingress clone", "key", key)
		if onBufferAccepted != nil {
			onBufferAccepted(err)
		}
		return err
	}

	var acceptErr error
	f.pks.Run(key, func() {
		acceptErr = f.engine.Set(ctx, key, cv, onWriteCompleted)
	})
	if onBufferAccepted != nil {
		onBufferAccepted(acceptErr)
	}
	return acceptErr
}

// Remove buffers a delete of key under key's per-key slot. See Set's doc
// comment for the two callbacks' timing.
func (f *Facade) Remove(ctx context.Context, key string, onBufferAccepted, onWriteCompleted func(error)) error {
	var acceptErr error
	f.pks.Run(key, func() {
		acceptErr = f.engine.Remove(ctx, key, onWriteCompleted)
	})
	if onBufferAccepted != nil {
		onBufferAccepted(acceptErr)
	}
	return acceptErr
}

// SetSub reads key's current value, sets path to a deep clone of leaf, and
// buffers the merged result as a single Set under key's per-key slot. See
// Set's doc comment for the two callbacks' timing.
func (f *Facade) SetSub(ctx context.Context, key string, path []string, leaf value.Value, onBufferAccepted, onWriteCompleted func(error)) error {
	cleaf, err := value.Clone(leaf)
	if err != nil {
		err = errs.WrapMsg(err, "facade: setSub ingress clone", "key", key)
		if onBufferAccepted != nil {
			onBufferAccepted(err)
		}
		return err
	}

	var acceptErr error
	f.pks.Run(key, func() {
		acceptErr = f.engine.SetSub(ctx, key, path, cleaf, onWriteCompleted)
	})
	if onBufferAccepted != nil {
		onBufferAccepted(acceptErr)
	}
	return acceptErr
}

// FindKeys matches pattern ("*" as a wildcard run) against the key space,
// excluding any key that also matches notPattern.
func (f *Facade) FindKeys(ctx context.Context, pattern, notPattern string) ([]string, error) {
	return f.engine.FindKeys(ctx, pattern, notPattern)
}

// Shutdown stops the periodic flusher and drains any remaining buffered
// writes with one final flush, without closing the backend.
func (f *Facade) Shutdown(ctx context.Context) error {
	return f.engine.Shutdown(ctx)
}

// Close shuts down the Facade and closes its backend.
func (f *Facade) Close(ctx context.Context) error {
	return f.engine.Close(ctx)
}
