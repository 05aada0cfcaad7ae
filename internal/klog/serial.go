// Copyright 2024 The moss-kernel Authors.
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

package klog

import (
	"fmt"
	"io"
)

// SerialEmitter writes plain "[LEVEL] message" lines to w with no
// dependency on logrus's own goroutine-safe buffering, for use during early
// boot before the scheduler (and thus the rest of the runtime a structured
// logger might reasonably assume) exists.
type SerialEmitter struct {
	W io.Writer
}

// Emit implements Emitter.
func (s SerialEmitter) Emit(level Level, format string, args []any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	fmt.Fprintf(s.W, "[%s] %s\n", level, msg)
}
