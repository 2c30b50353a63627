// Package logging provides structured JSON logging for the engine.
// Logs are written to a size-rotated file so stdout stays clean for the
// MCP stdio transport; an optional stderr mirror aids interactive use.
package logging
