// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so the rest of the codebase never touches zerolog directly:
// components receive a Logger value and log through Field helpers, while
// the Service owns sinks (console, file) and can swap them at runtime.
package logx
