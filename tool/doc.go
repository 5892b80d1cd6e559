// Package tool is the execution and registration runtime for callable tools.
//
// The package is split by concern:
//   - descriptor: tool identity, kind, and handler/command reference
//   - discover: directory scanning and unit loading for function and CLI tools
//   - registry/registrar: the bounded name -> descriptor table and host binding
//   - invoker/cli_runner: in-process and subprocess execution paths
//   - dispatcher/result: the total invoke contract and outcome normalization
//   - catalog: optional persisted audit of registrations
//   - observability: the process-wide Observer hook
//
// Callers hand a tool name and arguments to the Dispatcher and always receive a
// Result; failures below that boundary are classified, never raised.
package tool
