// Package agent declares the tools an LLM tool-calling loop may invoke on a context.
//
// A tool either runs directly and returns its value, or produces a code cell
// for the user to review. A successful code-cell tool sets Result.Stop so the
// loop ends its iteration there.
package agent
