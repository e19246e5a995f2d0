// Package logx is the fleet's structured logging layer, a thin wrapper
// over zerolog.
//
// The root logger is built once from config and never swapped; sinks are
// console (human-readable, short caller) and an optional JSON file.
// Components carry a Logger value and attach fixed fields with With.
package logx
