// Package bringup implements the ordered phase-A-through-G startup
// sequence that must complete before the supervisor enters steady state.
package bringup
