// Package vm implements the microjs virtual machine.
//
// This package contains:
//   - NaN-boxed value representation with heap handles
//   - Object layout: ordered property maps and prototype chains
//   - Bytecode definition and the stack interpreter
//   - Exception unwinding with try/catch/finally dispositions
//   - Builtin prototypes and the minimal standard library
//   - The sandbox context: memory, time and poll budgets
package vm
