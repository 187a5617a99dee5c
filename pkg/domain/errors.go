package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTemplateNotFound is returned when no template is registered under a name.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrMissingSubstitution is returned when a placeholder has neither a value nor a default.
	ErrMissingSubstitution = errors.New("missing substitution")

	// ErrInvalidParameter is returned when a substitution value fails its declared type.
	ErrInvalidParameter = errors.New("invalid template parameter")

	// ErrDocumentNotFound is returned when the storage service reports the document absent.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrRemoteFetch is returned for any other non-success storage response.
	ErrRemoteFetch = errors.New("remote fetch failed")

	// ErrMissingField is returned when a request lacks a required content field.
	ErrMissingField = errors.New("missing field")

	// ErrRemoteEvaluation is returned when the remote interpreter reports an exception.
	ErrRemoteEvaluation = errors.New("remote evaluation error")

	// ErrConfiguration is returned when a required setting is absent.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnknownContext is returned for an unregistered context slug or instance ID.
	ErrUnknownContext = errors.New("unknown context")

	// ErrUnknownAction is returned when a context has no handler for a message type.
	ErrUnknownAction = errors.New("unknown action")

	// ErrUnknownTool is returned when a toolset has no tool with the requested name.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrContextNotReady is returned when a request arrives before setup completed.
	ErrContextNotReady = errors.New("context not set up")

	// ErrSnapshotNotFound is returned when a snapshot store has no entry for an ID.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrInterpreterClosed is returned when the remote interpreter connection is gone.
	ErrInterpreterClosed = errors.New("interpreter closed")
)

// MissingSubstitutionError lists the placeholders that could not be resolved.
type MissingSubstitutionError struct {
	Template string
	Params   []string
}

func (e *MissingSubstitutionError) Error() string {
	return fmt.Sprintf("template %q: missing substitution for %s", e.Template, strings.Join(e.Params, ", "))
}

func (e *MissingSubstitutionError) Is(target error) bool {
	return target == ErrMissingSubstitution
}

// MissingFieldError lists the required content fields absent from a request.
type MissingFieldError struct {
	Action string
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: missing required field(s): %s", e.Action, strings.Join(e.Fields, ", "))
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// RemoteEvaluationError carries the exception reported by the remote interpreter.
// Its message is the remote error text, unmodified.
type RemoteEvaluationError struct {
	Name      string
	Value     string
	Traceback []string
}

func (e *RemoteEvaluationError) Error() string {
	if e.Name == "" {
		return e.Value
	}
	return e.Name + ": " + e.Value
}

func (e *RemoteEvaluationError) Is(target error) bool {
	return target == ErrRemoteEvaluation
}

// RemoteFetchError describes a non-success response from a storage service.
type RemoteFetchError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *RemoteFetchError) Error() string {
	method := e.Method
	if method == "" {
		method = "GET"
	}
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", method, e.URL, e.StatusCode, e.Body)
}

func (e *RemoteFetchError) Is(target error) bool {
	if target == ErrRemoteFetch {
		return true
	}
	return target == ErrDocumentNotFound && e.StatusCode == 404
}

// ConfigurationError names the setting that is missing or invalid.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration: %s is not set", e.Key)
	}
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
