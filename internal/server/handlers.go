package server

import (
	"net/http"
	"strconv"

	"github.com/rendis/schedflow/internal/engine"
	"github.com/rendis/schedflow/internal/store"
	"github.com/rendis/schedflow/pkg/schema"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": s.svc.ListActions()})
}

// --- Workflows ---

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf schema.Workflow
	if err := decodeJSON(w, r, &wf); err != nil {
		writeFlowError(w, err)
		return
	}
	res, err := s.svc.DefineWorkflow(r.Context(), &wf)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	filter := store.WorkflowFilter{
		OwnerID: r.URL.Query().Get("ownerId"),
		Limit:   queryInt(r, "limit", 50),
		Offset:  queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := schema.WorkflowStatus(v)
		filter.Status = &st
	}
	list, err := s.svc.ListWorkflows(r.Context(), filter)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if list == nil {
		list = []*schema.Workflow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": list})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.svc.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleSetWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status schema.WorkflowStatus `json:"status"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeFlowError(w, err)
		return
	}
	wf, err := s.svc.SetWorkflowStatus(r.Context(), r.PathValue("id"), body.Status)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	text, err := s.svc.Diagram(r.Context(), r.PathValue("id"), r.URL.Query().Get("run"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

// handleStartRun answers 200 with the run whatever its final status; run
// failures are reported in the body.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID      string         `json:"userId"`
		Variables   map[string]any `json:"variables"`
		StartNodeID string         `json:"startNodeId"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeFlowError(w, err)
		return
	}
	run, err := s.svc.StartRun(r.Context(), r.PathValue("id"), engine.Trigger{
		UserID:      body.UserID,
		Variables:   body.Variables,
		StartNodeID: body.StartNodeID,
		Source:      engine.SourceHTTP,
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// --- Runs and approvals ---

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeFlowError(w, schema.NewErrorf(schema.ErrCodeValidation, "invalid since %q", v))
			return
		}
		since = n
	}
	events, err := s.svc.RunEvents(r.Context(), r.PathValue("id"), since)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Approver string `json:"approver"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeFlowError(w, err)
		return
	}
	run, err := s.svc.Approve(r.Context(), r.PathValue("id"), body.Approver)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Approver string `json:"approver"`
		Reason   string `json:"reason"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeFlowError(w, err)
		return
	}
	run, err := s.svc.Reject(r.Context(), r.PathValue("id"), body.Approver, body.Reason)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	runs, err := s.svc.PendingApprovals(r.Context(), r.URL.Query().Get("approver"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if runs == nil {
		runs = []*schema.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// --- Triggers ---

func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkflowID     string         `json:"workflowId"`
		CronExpression string         `json:"cronExpression"`
		StartNodeID    string         `json:"startNodeId"`
		UserID         string         `json:"userId"`
		Variables      map[string]any `json:"variables"`
		Enabled        *bool          `json:"enabled"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeFlowError(w, err)
		return
	}
	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	trig, err := s.svc.CreateTrigger(r.Context(), &store.Trigger{
		WorkflowID:     body.WorkflowID,
		CronExpression: body.CronExpression,
		StartNodeID:    body.StartNodeID,
		UserID:         body.UserID,
		Variables:      body.Variables,
		Enabled:        enabled,
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trig)
}

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListTriggers(r.Context(), store.TriggerFilter{
		WorkflowID: r.URL.Query().Get("workflowId"),
		Enabled:    queryBool(r, "enabled"),
		Limit:      queryInt(r, "limit", 100),
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if list == nil {
		list = []*store.Trigger{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": list})
}

func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteTrigger(r.Context(), r.PathValue("id")); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
