// Package tracer computes the set of files a built module needs at runtime.
package tracer

import (
	"context"
	"errors"
	"sort"
)

// ReasonType tags why a file is part of a trace
type ReasonType string

const (
	// ReasonInitial marks the files the trace was started from
	ReasonInitial ReasonType = "initial"
	// ReasonResolve marks files reached through module resolution
	ReasonResolve ReasonType = "resolve"
	// ReasonAsset marks non-JavaScript files loaded at runtime (.node, .wasm)
	ReasonAsset ReasonType = "asset"
	// ReasonSymlink marks symbolic links crossed while resolving a file
	ReasonSymlink ReasonType = "symlink"
)

// ErrNoTracer is returned when a trace is requested without a tracer
var ErrNoTracer = errors.New("no file tracer configured")

// Reason holds the metadata recorded for one traced file
type Reason struct {
	Type    []ReasonType `json:"type"`
	Parents []string     `json:"parents,omitempty"`
}

// Has reports whether the reason carries the given type
func (r Reason) Has(t ReasonType) bool {
	for _, rt := range r.Type {
		if rt == t {
			return true
		}
	}
	return false
}

// Result is the outcome of a trace. Paths are slash separated and relative
// to Options.Base.
type Result struct {
	FileList []string          `json:"fileList"`
	Reasons  map[string]Reason `json:"reasons"`
	// Warnings lists imports that could not be resolved
	Warnings []string `json:"warnings,omitempty"`
}

// NewResult creates an empty result
func NewResult() *Result {
	return &Result{Reasons: make(map[string]Reason)}
}

// Add records file with the given reason type. An empty parent is ignored.
func (r *Result) Add(file string, typ ReasonType, parent string) {
	reason, seen := r.Reasons[file]
	if !seen {
		r.FileList = append(r.FileList, file)
	}
	if !reason.Has(typ) {
		reason.Type = append(reason.Type, typ)
	}
	if parent != "" && !containsString(reason.Parents, parent) {
		reason.Parents = append(reason.Parents, parent)
	}
	r.Reasons[file] = reason
}

// Sort orders FileList and Warnings lexically
func (r *Result) Sort() {
	sort.Strings(r.FileList)
	sort.Strings(r.Warnings)
}

// Options controls a trace
type Options struct {
	// Base is the directory all returned paths are relative to
	Base string
	// ProcessCwd is the directory relative entry files are resolved from.
	// Defaults to Base.
	ProcessCwd string
	// Packages names node_modules packages whose whole directory is traced
	// once any of their files is reached. Native addons locate their
	// binaries through computed paths no resolver can follow.
	Packages []string
}

// Tracer resolves the runtime file closure of a set of entry files
type Tracer interface {
	Trace(ctx context.Context, files []string, opts Options) (*Result, error)
}

// Func adapts a plain function to the Tracer interface
type Func func(ctx context.Context, files []string, opts Options) (*Result, error)

// Trace calls f
func (f Func) Trace(ctx context.Context, files []string, opts Options) (*Result, error) {
	return f(ctx, files, opts)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
