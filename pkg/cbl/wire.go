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
	jsoniter "github.com/json-iterator/go"

	"github.com/openimsdk/tools/errs"

	"github.com/kvmesh/cbl/pkg/backend"
	"github.com/kvmesh/cbl/pkg/value"
)

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// toWire renders v for the backend boundary (spec §4.1, "json" option):
// in JSON mode every value crosses as marshaled text; otherwise v crosses
// unchanged and the driver sees the structured form directly.
func (c *CBL) toWire(v value.Value) (any, error) {
	if !c.cfg.json || v == nil {
		return v, nil
	}
	b, err := wireJSON.Marshal(v)
	if err != nil {
		return nil, errs.WrapMsg(err, "cbl: json marshal")
	}
	return string(b), nil
}

// fromWire reverses toWire. raw is whatever the driver returned from Get;
// in JSON mode it must be a string (or []byte) of JSON text.
func (c *CBL) fromWire(raw any) (value.Value, error) {
	if !c.cfg.json || raw == nil {
		return raw, nil
	}
	var text []byte
	switch t := raw.(type) {
	case string:
		text = []byte(t)
	case []byte:
		text = t
	default:
		return nil, errs.New("cbl: json mode expects string or []byte from backend").Wrap()
	}
	var out any
	if err := wireJSON.Unmarshal(text, &out); err != nil {
		return nil, errs.WrapMsg(err, "cbl: json unmarshal")
	}
	return out, nil
}

// toWireOps renders a detached batch's Set values for the backend
// boundary, leaving Remove ops untouched.
func (c *CBL) toWireOps(ops []backend.Op) ([]backend.Op, error) {
	if !c.cfg.json {
		return ops, nil
	}
	out := make([]backend.Op, len(ops))
	for i, op := range ops {
		out[i] = op
		if op.Type == backend.OpSet {
			wv, err := c.toWire(op.Value)
			if err != nil {
				return nil, errs.WrapMsg(err, "cbl: json encode batch entry", "key", op.Key)
			}
			out[i].Value = wv
		}
	}
	return out, nil
}
