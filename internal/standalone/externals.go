package standalone

import (
	"sort"
	"strings"
)

// nodeBuiltinModules mirrors require('module').builtinModules on Node 20
var nodeBuiltinModules = []string{
	"_http_agent", "_http_client", "_http_common", "_http_incoming", "_http_outgoing",
	"_http_server", "_stream_duplex", "_stream_passthrough", "_stream_readable",
	"_stream_transform", "_stream_wrap", "_stream_writable", "_tls_common", "_tls_wrap",
	"assert", "assert/strict", "async_hooks", "buffer", "child_process", "cluster",
	"console", "constants", "crypto", "dgram", "diagnostics_channel", "dns", "dns/promises",
	"domain", "events", "fs", "fs/promises", "http", "http2", "https", "inspector",
	"inspector/promises", "module", "net", "os", "path", "path/posix", "path/win32",
	"perf_hooks", "process", "punycode", "querystring", "readline", "readline/promises",
	"repl", "stream", "stream/consumers", "stream/promises", "stream/web", "string_decoder",
	"sys", "timers", "timers/promises", "tls", "trace_events", "tty", "url", "util",
	"util/types", "v8", "vm", "wasi", "worker_threads", "zlib",
}

// nativeDependencies are packages shipping compiled addons; bundling them
// breaks their binary lookup, so they always stay external
var nativeDependencies = []string{
	"@node-rs/argon2",
	"@node-rs/bcrypt",
	"@prisma/client",
	"better-sqlite3",
	"bcrypt",
	"canvas",
	"sharp",
	"sqlite3",
}

// ExternalSet is the set of module specifiers never inlined into the bundle
type ExternalSet struct {
	specifiers map[string]struct{}
	packages   map[string]struct{}
}

// NewExternalSet builds the set from the Node built-ins (bare and "node:"
// prefixed), the known native packages and any extra native packages
func NewExternalSet(extraNative ...string) ExternalSet {
	s := ExternalSet{
		specifiers: make(map[string]struct{}),
		packages:   make(map[string]struct{}),
	}
	for _, m := range nodeBuiltinModules {
		s.specifiers[m] = struct{}{}
		s.specifiers["node:"+m] = struct{}{}
	}
	for _, list := range [][]string{nativeDependencies, extraNative} {
		for _, dep := range list {
			dep = strings.TrimSpace(dep)
			if dep == "" {
				continue
			}
			s.specifiers[dep] = struct{}{}
			s.packages[dep] = struct{}{}
		}
	}
	return s
}

// Contains reports whether specifier must stay external. Built-ins match
// exactly; native packages also match their subpath imports.
func (s ExternalSet) Contains(specifier string) bool {
	if _, ok := s.specifiers[specifier]; ok {
		return true
	}
	if strings.HasPrefix(specifier, "node:") {
		return false
	}
	_, ok := s.packages[packageName(specifier)]
	return ok
}

// List returns every specifier, sorted
func (s ExternalSet) List() []string {
	list := make([]string, 0, len(s.specifiers))
	for spec := range s.specifiers {
		list = append(list, spec)
	}
	sort.Strings(list)
	return list
}

// Packages returns the native package names, sorted
func (s ExternalSet) Packages() []string {
	list := make([]string, 0, len(s.packages))
	for name := range s.packages {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// packageName returns the package part of a bare specifier
func packageName(specifier string) string {
	parts := strings.SplitN(specifier, "/", 3)
	if strings.HasPrefix(specifier, "@") && len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}
