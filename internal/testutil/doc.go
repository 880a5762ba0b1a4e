// Package testutil provides testing utilities and fixtures for the authsession
// library. It includes a controllable clock, an in-process Redis helper,
// polling and assertion helpers for deterministic testing.
package testutil
