// Package httpapi is a thin chi binding over the RuntimeManager facade. It
// exists so the facade has one real in-repo caller and so the stack can be
// driven end-to-end over HTTP in integration tests — it is not a
// reimplementation of a REST controller layer, auth, or any transport
// explicitly out of scope.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	"github.com/mosaic-run/meshrt/internal/domain/routing"
	"github.com/mosaic-run/meshrt/internal/facade/apperr"
	"github.com/mosaic-run/meshrt/internal/runtime/manager"
)

const defaultTimeout = 10 * time.Second

var tracer = otel.Tracer("meshrt/httpapi")

// traceRoute wraps every request in a span named after chi's matched route
// pattern, not the raw path, so two requests to the same endpoint with
// different ids collapse into one span name. The pattern is only known once
// chi has routed the request, so the span is renamed after next returns.
func traceRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()
		span.SetAttributes(attribute.String("http.method", r.Method))
		next.ServeHTTP(w, r.WithContext(ctx))
		if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
			span.SetName(r.Method + " " + rctx.RoutePattern())
		}
	})
}

// Handler binds manager to a chi.Router.
type Handler struct {
	mgr *manager.Manager
}

// New builds a Handler.
func New(mgr *manager.Manager) *Handler { return &Handler{mgr: mgr} }

// Routes registers every endpoint onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Use(traceRoute)
	r.Post("/mosaics/{mosaicID}/start", h.startMosaic)
	r.Post("/mosaics/{mosaicID}/stop", h.stopMosaic)
	r.Get("/mosaics/{mosaicID}", h.getMosaic)
	r.Post("/mosaics/{mosaicID}/nodes/{nodeID}/start", h.startNode)
	r.Post("/mosaics/{mosaicID}/nodes/{nodeID}/stop", h.stopNode)
	r.Get("/mosaics/{mosaicID}/nodes/{nodeID}", h.getNode)
	r.Post("/mosaics/{mosaicID}/nodes/{nodeID}/sessions", h.createSession)
	r.Post("/mosaics/{mosaicID}/nodes/{nodeID}/sessions/{sessionID}/messages", h.sendMessage)
	r.Post("/mosaics/{mosaicID}/nodes/{nodeID}/sessions/{sessionID}/interrupt", h.interruptSession)
	r.Delete("/mosaics/{mosaicID}/nodes/{nodeID}/sessions/{sessionID}", h.closeSession)
}

func (h *Handler) startMosaic(w http.ResponseWriter, r *http.Request) {
	mosaicID, err := uuid.Parse(chi.URLParam(r, "mosaicID"))
	if err != nil {
		http.Error(w, "invalid mosaic id", http.StatusBadRequest)
		return
	}
	err = h.mgr.StartMosaic(r.Context(), mosaicID, defaultTimeout)
	writeErr(w, r, err)
}

func (h *Handler) stopMosaic(w http.ResponseWriter, r *http.Request) {
	mosaicID, err := uuid.Parse(chi.URLParam(r, "mosaicID"))
	if err != nil {
		http.Error(w, "invalid mosaic id", http.StatusBadRequest)
		return
	}
	err = h.mgr.StopMosaic(r.Context(), mosaicID, defaultTimeout)
	writeErr(w, r, err)
}

func (h *Handler) getMosaic(w http.ResponseWriter, r *http.Request) {
	mosaicID, err := uuid.Parse(chi.URLParam(r, "mosaicID"))
	if err != nil {
		http.Error(w, "invalid mosaic id", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(h.mgr.GetMosaicStatus(mosaicID))})
}

func (h *Handler) startNode(w http.ResponseWriter, r *http.Request) {
	mosaicID, nodeID, err := parseMosaicNode(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeErr(w, r, h.mgr.StartNode(r.Context(), mosaicID, nodeID, defaultTimeout))
}

func (h *Handler) stopNode(w http.ResponseWriter, r *http.Request) {
	mosaicID, nodeID, err := parseMosaicNode(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeErr(w, r, h.mgr.StopNode(r.Context(), mosaicID, nodeID, defaultTimeout))
}

func (h *Handler) getNode(w http.ResponseWriter, r *http.Request) {
	mosaicID, nodeID, err := parseMosaicNode(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	status := h.mgr.GetNodeStatus(r.Context(), mosaicID, nodeID)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

type createSessionRequest struct {
	Mode   routing.SessionMode `json:"mode"`
	Model  string              `json:"model"`
	Config map[string]any      `json:"config"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	mosaicID, nodeID, err := parseMosaicNode(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	sessionID, err := h.mgr.CreateSession(r.Context(), mosaicID, nodeID, req.Mode, req.Model, req.Config, defaultTimeout)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID.String()})
}

type sendMessageRequest struct {
	EventType string `json:"event_type"`
	Payload   any    `json:"payload"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	mosaicID, nodeID, sessionID, err := parseMosaicNodeSession(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	ev := mesh.Event{
		EventID:         uuid.New(),
		EventType:       req.EventType,
		TargetNodeID:    nodeID,
		TargetSessionID: sessionID,
		Payload:         req.Payload,
	}
	writeErr(w, r, h.mgr.SubmitSendMessage(mosaicID, nodeID, sessionID, ev))
}

func (h *Handler) interruptSession(w http.ResponseWriter, r *http.Request) {
	mosaicID, nodeID, sessionID, err := parseMosaicNodeSession(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeErr(w, r, h.mgr.InterruptSession(r.Context(), mosaicID, nodeID, sessionID, defaultTimeout))
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	mosaicID, nodeID, sessionID, err := parseMosaicNodeSession(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeErr(w, r, h.mgr.CloseSession(r.Context(), mosaicID, nodeID, sessionID, defaultTimeout))
}

func parseMosaicNode(r *http.Request) (uuid.UUID, string, error) {
	mosaicID, err := uuid.Parse(chi.URLParam(r, "mosaicID"))
	if err != nil {
		return uuid.Nil, "", err
	}
	return mosaicID, chi.URLParam(r, "nodeID"), nil
}

func parseMosaicNodeSession(r *http.Request) (uuid.UUID, string, uuid.UUID, error) {
	mosaicID, nodeID, err := parseMosaicNode(r)
	if err != nil {
		return uuid.Nil, "", uuid.Nil, err
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		return uuid.Nil, "", uuid.Nil, err
	}
	return mosaicID, nodeID, sessionID, nil
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	trace.SpanFromContext(r.Context()).RecordError(err)
	writeJSON(w, apperr.ToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
