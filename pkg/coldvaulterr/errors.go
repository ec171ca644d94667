/*
Copyright 2013 The Camlistore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package coldvaulterr defines the typed error kinds the engine surfaces
// at its boundary, so that the CLI can print "ERROR: <kind>: <message>"
// without string-sniffing.
package coldvaulterr

import "fmt"

// Kind identifies one of the error categories named in the failure model:
// Config, Backend, Cipher, Metadata, Data, Input.
type Kind string

const (
	Config   Kind = "config"
	Backend  Kind = "backend"
	Cipher   Kind = "cipher"
	Metadata Kind = "metadata"
	Data     Kind = "data"
	Input    Kind = "input"
)

// Error is a typed, boundary-facing error. Metadata and Data errors carry
// the offending bucket key; the rest leave Key empty.
type Error struct {
	Kind Kind
	Msg  string
	Key  string
	Err  error // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Key != "" {
		msg = fmt.Sprintf("%s (key: %s)", msg, e.Key)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ConfigErrorf builds a Config error, e.g. for a missing section/key.
func ConfigErrorf(format string, args ...any) *Error {
	return newf(Config, nil, format, args...)
}

// BackendErrorf builds a Backend error (transport failure, auth failure,
// not-found on a required fetch).
func BackendErrorf(err error, format string, args ...any) *Error {
	return newf(Backend, err, format, args...)
}

// CipherErrorf builds a Cipher error carrying the pipeline's diagnostic.
func CipherErrorf(err error, format string, args ...any) *Error {
	return newf(Cipher, err, format, args...)
}

// MetadataErrorf builds a Metadata error naming the offending
// metadata-bucket key.
func MetadataErrorf(key string, err error, format string, args ...any) *Error {
	e := newf(Metadata, err, format, args...)
	e.Key = key
	return e
}

// DataErrorf builds a Data error naming the offending data-bucket key.
func DataErrorf(key string, format string, args ...any) *Error {
	e := newf(Data, nil, format, args...)
	e.Key = key
	return e
}

// InputErrorf builds an Input error (bad CLI usage, unknown command,
// nonexistent path).
func InputErrorf(format string, args ...any) *Error {
	return newf(Input, nil, format, args...)
}

// KindOf reports the Kind of err, or "" if err is not one of ours.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}
