// Copyright 2026 Metis Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metiserr defines the error taxonomy shared across the Metis core.
// Every subsystem classifies its failures into one of the kinds below so the
// MCP dispatcher and the agent streaming path can map them uniformly.
package metiserr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for dispatch and policy decisions.
type Kind int

const (
	// KindConfiguration covers validation failures, unresolved $refs,
	// duplicate names, and unreachable referenced entities.
	KindConfiguration Kind = iota + 1

	// KindAuthentication covers missing or invalid credentials.
	KindAuthentication

	// KindNotFound covers lookups of tools, resources, prompts, agents,
	// sessions, data lakes, and records that do not exist.
	KindNotFound

	// KindInvalidRequest covers malformed JSON-RPC envelopes, malformed
	// arguments, and unknown strategies.
	KindInvalidRequest

	// KindStrategyFailure covers template render errors, script runtime
	// errors, pattern expansion errors, and DB driver errors inside the
	// mock engine.
	KindStrategyFailure

	// KindAPI covers non-2xx responses from upstream LLM or MCP servers.
	KindAPI

	// KindParse covers undecodable upstream responses.
	KindParse

	// KindStreaming covers dropped upstream streaming connections.
	KindStreaming

	// KindStorage covers object-store and database I/O failures, including
	// Parquet and JSONL decoding.
	KindStorage
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindInvalidRequest:
		return "invalid_request"
	case KindStrategyFailure:
		return "strategy_failure"
	case KindAPI:
		return "api"
	case KindParse:
		return "parse"
	case KindStreaming:
		return "streaming"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is a classified error. Status is set only for KindAPI.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Kind == KindAPI && e.Status != 0:
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// API creates a KindAPI error carrying the upstream HTTP status.
func API(status int, format string, args ...interface{}) *Error {
	return &Error{Kind: KindAPI, Status: status, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or 0 if err is not a classified error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
