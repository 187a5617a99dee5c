/*
Package contexts implements the context handlers: session-scoped bundles that
bridge inbound messages and agent tool calls to code generation and remote
execution for one scientific domain.

A context instance owns a SessionState and is driven through four entry points:

  - Setup: fetch the working document (if any) and bind it in the interpreter.
  - Handle: run a named message action (extract fields, render, execute, relay).
  - Invoke: run one of the agent tools declared by the context.
  - PostExecute: refresh derived state after the user ran code in the notebook.

Every request error is relayed as an "error" event and returned to the caller.
A request missing a required field never reaches the interpreter. Setup errors
are returned only.

Concrete contexts live in sub-packages and embed Base, which provides state,
field extraction and the render/execute/evaluate/send helpers.
*/
package contexts
