/*
Package domain contains the core value types shared by every kernelctx component.

It is kept free of I/O so that contexts, adapters and transports can agree on the
same vocabulary without depending on each other, following Hexagonal Architecture
principles.

# Key Entities

  - Message: an inbound request (header, optional parent header, content mapping).
  - Event: an outbound, write-once notification published on a relay channel.
  - Document: a nested key-value document (a model, a configuration, a dataset record).
  - SessionState: the per-context snapshot (identifier, document, original copy, variable name).
  - Template: a named code template with declared parameters.
  - CodeCell: a code payload handed back to the user instead of being executed.
*/
package domain
