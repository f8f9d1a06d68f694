package version

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/coreos/go-semver/semver"

	wasmexec "github.com/wippyai/wasm-exec"
	"github.com/wippyai/wasm-exec/engine"
	"github.com/wippyai/wasm-exec/errors"
)

// Info is the self-description a module returns from its version export.
type Info struct {
	// Name identifies the module, e.g. "acme.pricing".
	Name string `json:"name"`

	// Version is the module's semantic version.
	Version *semver.Version `json:"version"`

	// APIs lists the API surfaces the module claims to implement.
	APIs []string `json:"apis,omitempty"`
}

// Implements reports whether the module claims the named API.
func (i *Info) Implements(api string) bool {
	for _, a := range i.APIs {
		if a == api {
			return true
		}
	}
	return false
}

func (i *Info) String() string {
	if i.Version == nil {
		return i.Name
	}
	return fmt.Sprintf("%s@%s", i.Name, i.Version)
}

// wireInfo is the raw JSON shape; version is validated separately so a bad
// string reports version_decode instead of a bare unmarshal error.
type wireInfo struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	APIs    []string `json:"apis"`
}

// Resolver extracts version information from instantiated modules by
// invoking their version export. It counts invocations so callers can verify
// memoization above it.
type Resolver struct {
	invocations atomic.Int64
}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Invocations reports how many times Resolve actually called into a guest.
func (r *Resolver) Invocations() int64 {
	return r.invocations.Load()
}

// Resolve invokes the module_version export with empty input and decodes the
// returned JSON document. A module without the export fails with
// missing_export; malformed output fails with version_decode.
func (r *Resolver) Resolve(ctx context.Context, inst *engine.Instance) (*Info, error) {
	r.invocations.Add(1)

	raw, err := inst.Invoke(ctx, wasmexec.ExportVersion, nil)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Decode parses the version document a module emitted.
func Decode(raw []byte) (*Info, error) {
	if len(raw) == 0 {
		return nil, errors.VersionDecode("empty version document", nil)
	}

	var w wireInfo
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, errors.VersionDecode("version document is not valid JSON", err)
	}
	if w.Name == "" {
		return nil, errors.VersionDecode("version document has no name", nil)
	}
	if w.Version == "" {
		return nil, errors.VersionDecode("version document has no version", nil)
	}
	v, err := semver.NewVersion(w.Version)
	if err != nil {
		return nil, errors.VersionDecode(fmt.Sprintf("invalid semantic version %q", w.Version), err)
	}

	return &Info{Name: w.Name, Version: v, APIs: w.APIs}, nil
}
