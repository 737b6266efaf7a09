// Package jsonschema derives the JSON Schema advertised for a tool's
// parameters from a Go struct type. Struct tags of the form
// `jsonschema:"description=...,required,enum=a,enum=b"` refine the result.
package jsonschema
