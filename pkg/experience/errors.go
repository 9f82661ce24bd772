package experience

import (
	"errors"
	"fmt"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/plugin"
)

// Sentinel errors for plugin registration.
var (
	// ErrNilPlugin indicates Register was called with a nil plugin or an
	// empty name.
	ErrNilPlugin = errors.New("plugin is nil or unnamed")

	// ErrDuplicatePlugin indicates a plugin with the same name is already
	// registered.
	ErrDuplicatePlugin = errors.New("duplicate plugin name")
)

// Sentinel errors for dispatch.
var (
	// ErrPipelineClosed indicates the pipeline was closed.
	ErrPipelineClosed = errors.New("pipeline closed")

	// ErrUnknownEventType indicates an event whose type is not one of the
	// five known variants.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrInvalidEvent indicates an event missing its variant payload, such as
	// a track event without a name.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrEmitLimit indicates a plugin-emitted event was dropped because the
	// dispatch already sent the maximum number of emitted events.
	ErrEmitLimit = errors.New("emitted event limit reached")
)

// ConfigurationError reports invalid setup: duplicate plugins, invalid
// policies, or malformed experiences.
type ConfigurationError struct {
	// Component is what was being configured ("plugin", "consent",
	// "experience", "profile").
	Component string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configure %s: %v", e.Component, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TransportError wraps a profile store failure. The cached profile is left
// untouched when one is returned.
type TransportError struct {
	// Op is the profile operation ("resolve", "identify").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("profile %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// PluginHandlerError reports a failed plugin hook. It is logged and counted
// but never stops other plugins, and never becomes the Dispatch error.
type PluginHandlerError struct {
	// Plugin is the plugin name.
	Plugin string
	// Hook is the hook that failed.
	Hook plugin.Hook
	// Err is the error returned by the hook, or a *PanicError.
	Err error
}

// Error implements the error interface.
func (e *PluginHandlerError) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Hook, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PluginHandlerError) Unwrap() error {
	return e.Err
}

// PanicError captures a recovered plugin panic.
// It includes the stack trace for debugging.
type PanicError struct {
	// Plugin is the plugin that panicked.
	Plugin string
	// Hook is the hook that was running.
	Hook plugin.Hook
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("plugin %s panicked in %s: %v", e.Plugin, e.Hook, e.Value)
}
