package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bottomsky/algotirhm-sdk/internal/envelope"
	"github.com/bottomsky/algotirhm-sdk/internal/execution"
	"github.com/bottomsky/algotirhm-sdk/internal/lifecycle"
)

// handleInvoke is the POST /algorithms/{name}/{version} handler: it decodes
// the request envelope, checks admission against the lifecycle state,
// resolves the spec, dispatches through the executor, and renders the
// result envelope. An optional timeoutS query parameter caps this one
// request's execution time; the effective timeout is the minimum of it and
// the spec's own timeout.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name, version := chi.URLParam(r, "name"), chi.URLParam(r, "version")

	var env envelope.Request
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.writeFailure(w, http.StatusBadRequest, 400, "malformed request envelope: "+err.Error(), nil)
		return
	}
	if env.RequestID == "" {
		s.writeFailure(w, http.StatusBadRequest, 400, "requestId must be non-empty", nil)
		return
	}

	if !s.machine.AcceptingRequests() {
		state := s.machine.State()
		if state == lifecycle.Draining {
			s.writeFailure(w, http.StatusTooManyRequests, 429, "service is draining", &env.RequestID)
			return
		}
		s.writeFailure(w, http.StatusServiceUnavailable, 503, "service is not running: "+string(state), &env.RequestID)
		return
	}

	sp, err := s.registry.Get(name, version)
	if err != nil {
		s.writeFailure(w, http.StatusNotFound, 404, err.Error(), &env.RequestID)
		return
	}

	req := execution.Request{
		Spec:            sp,
		Payload:         env.Data,
		RequestID:       env.RequestID,
		RequestDatetime: env.Datetime,
		Context:         env.Context,
	}
	if env.Context != nil {
		req.TraceID = env.Context.TraceID
	}
	if v := r.URL.Query().Get("timeoutS"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 {
			s.writeFailure(w, http.StatusBadRequest, 400, "timeoutS must be a non-negative number", &env.RequestID)
			return
		}
		req.TimeoutS = &t
	}

	res, err := s.executor.Submit(r.Context(), req)
	if err != nil {
		s.logger.Error(r.Context(), "executor submit failed", "request_id", env.RequestID, "error", err)
		s.writeFailure(w, http.StatusInternalServerError, 500, err.Error(), &env.RequestID)
		return
	}

	status, resp := renderResult(env, res)
	writeJSON(w, status, resp)
}

// renderResult translates an execution result into the response envelope.
// Response-meta overrides set by the algorithm take precedence over the
// default code/message on both the success and the error path.
func renderResult(env envelope.Request, res execution.Result) (int, envelope.Response) {
	requestID := env.RequestID
	resp := envelope.Response{
		RequestID: &requestID,
		Datetime:  time.Now().UTC(),
	}
	if res.ResponseMeta.Context != nil {
		resp.Context = res.ResponseMeta.Context
	}

	if res.Success {
		resp.Code = 0
		resp.Message = "success"
		resp.Data = res.Data
		if res.ResponseMeta.Code != nil {
			resp.Code = *res.ResponseMeta.Code
		}
		if res.ResponseMeta.Message != nil {
			resp.Message = *res.ResponseMeta.Message
		}
		return http.StatusOK, resp
	}

	kind, message := envelope.KindSystem, "execution failed"
	if res.Error != nil {
		kind = res.Error.Kind
		if res.Error.Message != "" {
			message = res.Error.Message
		}
	}
	status := envelope.CodeForKind(kind)
	resp.Code = status
	resp.Message = message
	if res.ResponseMeta.Code != nil {
		resp.Code = *res.ResponseMeta.Code
	}
	if res.ResponseMeta.Message != nil {
		resp.Message = *res.ResponseMeta.Message
	}
	return status, resp
}

// writeFailure renders a fully populated failure envelope with no data.
func (s *Server) writeFailure(w http.ResponseWriter, status, code int, message string, requestID *string) {
	writeJSON(w, status, envelope.Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Datetime:  time.Now().UTC(),
	})
}
