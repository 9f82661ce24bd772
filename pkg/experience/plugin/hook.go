package plugin

import "github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"

// Hook names a plugin entry point in errors, logs, and metrics.
type Hook string

const (
	HookInitialize    Hook = "initialize"
	HookReady         Hook = "ready"
	HookPageStart     Hook = "pageStart"
	HookPage          Hook = "page"
	HookTrackStart    Hook = "trackStart"
	HookTrack         Hook = "track"
	HookIdentifyStart Hook = "identifyStart"
	HookIdentify      Hook = "identify"
	HookComponentView Hook = "componentView"
	HookComponentSeen Hook = "componentSeen"
	HookClose         Hook = "close"
)

// StartHookFor returns the start hook name for an event type, or "" when the
// type has none.
func StartHookFor(t event.Type) Hook {
	switch t {
	case event.TypePage:
		return HookPageStart
	case event.TypeTrack:
		return HookTrackStart
	case event.TypeIdentify:
		return HookIdentifyStart
	}
	return ""
}

// HandlerHookFor returns the main handler hook name for an event type.
func HandlerHookFor(t event.Type) Hook {
	switch t {
	case event.TypePage:
		return HookPage
	case event.TypeTrack:
		return HookTrack
	case event.TypeIdentify:
		return HookIdentify
	case event.TypeComponentView:
		return HookComponentView
	case event.TypeComponentSeen:
		return HookComponentSeen
	}
	return ""
}

// Hooks lists the hooks p implements, in lifecycle order.
func Hooks(p Plugin) []Hook {
	var hooks []Hook
	add := func(ok bool, h Hook) {
		if ok {
			hooks = append(hooks, h)
		}
	}
	_, ok := p.(Initializer)
	add(ok, HookInitialize)
	_, ok = p.(ReadyHook)
	add(ok, HookReady)
	_, ok = p.(PageStartHook)
	add(ok, HookPageStart)
	_, ok = p.(PageHandler)
	add(ok, HookPage)
	_, ok = p.(TrackStartHook)
	add(ok, HookTrackStart)
	_, ok = p.(TrackHandler)
	add(ok, HookTrack)
	_, ok = p.(IdentifyStartHook)
	add(ok, HookIdentifyStart)
	_, ok = p.(IdentifyHandler)
	add(ok, HookIdentify)
	_, ok = p.(ComponentViewHandler)
	add(ok, HookComponentView)
	_, ok = p.(ComponentSeenHandler)
	add(ok, HookComponentSeen)
	_, ok = p.(Closer)
	add(ok, HookClose)
	return hooks
}
