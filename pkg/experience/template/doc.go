/*
Package template resolves {{ path.to.value }} placeholders against an
event-derived context object.

Destinations use it to build human-readable payloads such as log lines or
notification bodies:

	out := template.Interpolate("{{ event }} on {{ context.url }}", map[string]any{
	    "event":   "signup",
	    "context": map[string]any{"url": "https://example.com"},
	})
	// out: "signup on https://example.com"

Paths are dotted and may index arrays either as items[0] or items.0.
Strings are inserted verbatim; numbers, booleans, objects and arrays are
inserted as their JSON text.

# Missing Values

By default unresolved placeholders are kept as-is. Configure with
WithMissingAction(MissingEmpty) to drop them or MissingError to fail with an
*UndefinedVariableError. A JSON null counts as missing.

# Events

InterpolateEvent resolves against the wire form of an *event.Event, so
templates use the same names destinations receive: messageId, anonymousId,
event, properties.*, traits.*, context.*, component.*.
*/
package template
