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

// Package ktrace records wire-encoded task-lifecycle and
// unimplemented-syscall trace events, grounded on gvisor's
// pkg/eventchannel (a uvarint-length-prefixed stream of binary protobuf
// messages) and pkg/sentry/unimpl's "unimplemented syscall" event, whose
// generated .proto descriptor did not survive this exercise's retrieval
// (see DESIGN.md). Rather than fabricate a .proto file and pretend to run
// protoc, records here are hand-encoded with
// google.golang.org/protobuf/encoding/protowire, a real, standalone
// low-level wire-format package appropriate for a fixed, small message
// shape known in advance.
package ktrace

import (
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
)

// EventType tags one trace record's field 1, mirroring the discriminated
// "what kind of unimplemented-syscall/lifecycle event is this" shape of
// gvisor's unimplemented_syscall_go_proto message.
type EventType int32

const (
	EventTaskStart EventType = iota + 1
	EventTaskExit
	EventSyscallUnimplemented
	EventExecFault
	EventSignalDelivered
)

func (e EventType) String() string {
	switch e {
	case EventTaskStart:
		return "task_start"
	case EventTaskExit:
		return "task_exit"
	case EventSyscallUnimplemented:
		return "syscall_unimplemented"
	case EventExecFault:
		return "exec_fault"
	case EventSignalDelivered:
		return "signal_delivered"
	default:
		return "unknown"
	}
}

// Record is one decoded trace entry.
type Record struct {
	Seq  uint64
	Type EventType
	Msg  string
}

// Wire field numbers for the hand-encoded record, chosen the way a small
// fixed .proto message would number its fields.
const (
	fieldSeq  = 1
	fieldType = 2
	fieldMsg  = 3
)

// Encode serializes r using protowire's low-level varint/length-delimited
// primitives, in field-number order, matching how a generated
// proto.Marshal would lay out a message with no optional/repeated fields.
func Encode(r Record) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldSeq, protowire.VarintType)
	buf = protowire.AppendVarint(buf, r.Seq)
	buf = protowire.AppendTag(buf, fieldType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.Type))
	buf = protowire.AppendTag(buf, fieldMsg, protowire.BytesType)
	buf = protowire.AppendString(buf, r.Msg)
	return buf
}

// Decode parses bytes produced by Encode. Unknown fields are skipped, the
// way generated proto code tolerates schema evolution.
func Decode(b []byte) (Record, error) {
	var r Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Record{}, protowire.ParseError(n)
			}
			r.Seq = v
			b = b[n:]
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Record{}, protowire.ParseError(n)
			}
			r.Type = EventType(v)
			b = b[n:]
		case num == fieldMsg && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Record{}, protowire.ParseError(n)
			}
			r.Msg = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Record{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return r, nil
}

// Log is an in-process sink for wire-encoded trace records, standing in
// for gvisor's socketpair-connected eventchannel emitter: there is no
// network stack in scope (spec.md §1 non-goal), so records accumulate in
// memory for an external, out-of-scope monitoring harness to drain via
// Records or Wire.
type Log struct {
	mu      sync.Mutex
	seq     uint64
	records []Record
}

// NewLog returns an empty trace log.
func NewLog() *Log { return &Log{} }

// Emit appends a new record of the given type, used by boot orchestration
// (task lifecycle) and package syscall's dispatch path (ENOSYS handling)
// to log a wire-shaped trace event without depending on package process or
// package sched.
func (l *Log) Emit(typ EventType, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.records = append(l.records, Record{Seq: l.seq, Type: typ, Msg: msg})
}

// Records returns a snapshot of every record emitted so far, in emission
// order.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Wire returns the length-prefixed wire encoding of every record, matching
// the "uvarint length followed by a binary protobuf message" framing
// pkg/eventchannel documents for its own socketpair stream.
func (l *Log) Wire() []byte {
	records := l.Records()
	var out []byte
	for _, r := range records {
		enc := Encode(r)
		out = protowire.AppendVarint(out, uint64(len(enc)))
		out = append(out, enc...)
	}
	return out
}
