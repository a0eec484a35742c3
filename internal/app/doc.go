// Package app wires send-result observers to the device message store and
// keeps track of every watch a host application has started.
//
// Responsibilities:
// - Build observers from host requests, filling in configured defaults.
// - Track watch state and retain finished outcomes for late readers.
// - Fan finished outcomes out to stream subscribers.
//
// Non-responsibilities:
// - JSON-RPC/HTTP protocol handling and endpoint-level mapping.
package app
