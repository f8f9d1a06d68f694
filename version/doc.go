// Package version resolves the self-reported identity of wasm modules.
//
// Modules that opt in export a module_version entry point returning a JSON
// document with a name, a semantic version, and the API surfaces they
// implement. The Resolver invokes that export through the standard calling
// convention and decodes the result into an Info.
package version
