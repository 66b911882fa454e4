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

import "github.com/openimsdk/tools/errs"

var (
	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errs.New("cbl: closed")
	// ErrKeyTooLong is returned when a key exceeds the backend's
	// KeyLimiter.MaxKeyLen (spec §6, "Key-length constraint").
	ErrKeyTooLong = errs.New("cbl: key exceeds backend maximum length")
)
