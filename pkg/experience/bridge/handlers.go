package bridge

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bucket"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/consent"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
)

type consentRequest struct {
	Accepted *bool `json:"accepted"`
}

type consentResponse struct {
	State    string `json:"state"`
	Accepted bool   `json:"accepted"`
}

func consentBody(s consent.State) consentResponse {
	return consentResponse{State: s.String(), Accepted: s == consent.Accepted}
}

// dispatchResponse is the JSON form of experience.Result.
type dispatchResponse struct {
	MessageID    string             `json:"messageId,omitempty"`
	Blocked      bool               `json:"blocked"`
	Reason       string             `json:"reason,omitempty"`
	Redacted     []string           `json:"redacted,omitempty"`
	Delivered    int                `json:"delivered"`
	Assignment   *bucket.Assignment `json:"assignment,omitempty"`
	PluginErrors []string           `json:"pluginErrors,omitempty"`
	Emitted      []dispatchResponse `json:"emitted,omitempty"`
}

func resultBody(res experience.Result) dispatchResponse {
	out := dispatchResponse{
		Blocked:    res.Blocked,
		Reason:     res.Reason,
		Redacted:   res.Redacted,
		Delivered:  res.Delivered,
		Assignment: res.Assignment,
	}
	if res.Event != nil {
		out.MessageID = res.Event.MessageID
	}
	for _, err := range res.PluginErrors {
		out.PluginErrors = append(out.PluginErrors, err.Error())
	}
	for _, em := range res.Emitted {
		out.Emitted = append(out.Emitted, resultBody(em))
	}
	return out
}

// GetConsent handles GET /consent.
func (h *Handler) GetConsent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, consentBody(h.pipeline.Gate().State()))
}

// SetConsent handles POST /consent with {"accepted": true|false}.
func (h *Handler) SetConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Accepted == nil {
		writeError(w, http.StatusBadRequest, "accepted field is required")
		return
	}
	if err := h.pipeline.Consent(r.Context(), *req.Accepted); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, consentBody(h.pipeline.Gate().State()))
}

// CaptureEvent handles POST /events/{type}. The body is an event in wire
// form; its type comes from the path.
func (h *Handler) CaptureEvent(w http.ResponseWriter, r *http.Request) {
	t, err := event.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var e event.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	e.Type = t
	if e.Context == (event.Context{}) {
		e.Context = h.pipeline.Builder().Context()
	}

	res, err := h.dispatch(r, &e)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resultBody(res))
}

func (h *Handler) dispatch(r *http.Request, e *event.Event) (experience.Result, error) {
	if e.Type == event.TypeIdentify {
		opts := []event.Option{event.WithContext(e.Context)}
		if e.MessageID != "" {
			opts = append(opts, event.WithMessageID(e.MessageID))
		}
		if e.Timestamp != 0 {
			opts = append(opts, event.WithTimestamp(e.Time()))
		}
		if e.AnonymousID != "" {
			opts = append(opts, event.WithAnonymousID(e.AnonymousID))
		}
		return h.pipeline.Identify(r.Context(), e.UserID, e.Traits, opts...)
	}
	return h.pipeline.Dispatch(r.Context(), e)
}

// Reset handles POST /reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveExperience handles POST /experiences/resolve with an experience
// definition and returns the visitor's assignment and variant.
func (h *Handler) ResolveExperience(w http.ResponseWriter, r *http.Request) {
	var exp bucket.Experience
	if err := json.NewDecoder(r.Body).Decode(&exp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	a, err := h.pipeline.ResolveExperience(r.Context(), exp)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assignment": a,
		"variant":    exp.Variant(a),
	})
}

// Debug handles GET /debug.
func (h *Handler) Debug(w http.ResponseWriter, r *http.Request) {
	gate := h.pipeline.Gate()
	writeJSON(w, http.StatusOK, map[string]any{
		"consent": consentBody(gate.State()),
		"plugins": h.pipeline.Plugins(),
		"profile": h.pipeline.Profiles().Cached(),
		"shared":  h.pipeline.Shared().Snapshot(),
		"queued":  len(gate.Queue()),
		"dropped": gate.Dropped(),
	})
}

// DebugNamespace handles GET /debug/{namespace}.
func (h *Handler) DebugNamespace(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "namespace")
	ns, ok := h.pipeline.Shared().Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, "namespace not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, ns.Snapshot())
}

// Queue handles GET /queue.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	gate := h.pipeline.Gate()
	writeJSON(w, http.StatusOK, map[string]any{
		"events":  gate.Queue(),
		"dropped": gate.Dropped(),
	})
}

// Resolve handles GET /resolve for server-side rendering.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	p, err := h.resolver.Resolve(w, r, event.Context{
		URL:       r.URL.String(),
		Path:      r.URL.Path,
		Referrer:  r.Referer(),
		Locale:    r.Header.Get("Accept-Language"),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}
