package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pipepulse/pipepulse/pkg/types"
)

// workflowRunEvent is the subset of a provider's webhook delivery this
// server consumes. GitHub Actions sends it natively; the Jenkins
// notification plugin posts the same shape.
type workflowRunEvent struct {
	Action      string `json:"action"`
	WorkflowRun struct {
		Name       string     `json:"name"`
		HeadBranch string     `json:"head_branch"`
		Conclusion string     `json:"conclusion"`
		RunNumber  int        `json:"run_number"`
		HTMLURL    string     `json:"html_url"`
		CreatedAt  *time.Time `json:"created_at"`
		UpdatedAt  *time.Time `json:"updated_at"`
	} `json:"workflow_run"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// webhookGitHub handles POST /webhook/github — raw GitHub Actions
// workflow_run deliveries. Only completed workflows are processed; anything
// else is acknowledged and dropped.
func (h *Handler) webhookGitHub(w http.ResponseWriter, r *http.Request) {
	var ev workflowRunEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		jsonErr(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return
	}

	if ev.Action != "completed" {
		jsonResp(w, http.StatusAccepted, ignoredResponse{
			Status:  "ignored",
			Message: "only completed workflow runs are processed",
		})
		return
	}

	h.runIngest(w, r, types.ProviderGitHub, ev.payload(githubConclusion))
}

// webhookJenkins handles POST /webhook/jenkins.
func (h *Handler) webhookJenkins(w http.ResponseWriter, r *http.Request) {
	var ev workflowRunEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		jsonErr(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return
	}

	h.runIngest(w, r, types.ProviderJenkins, ev.payload(jenkinsConclusion))
}

// payload maps the webhook event to the canonical ingest form using the
// provider's status mapping.
func (ev workflowRunEvent) payload(mapStatus func(string) string) types.IngestPayload {
	p := types.IngestPayload{
		Pipeline:    ev.WorkflowRun.Name,
		Repo:        ev.Repository.FullName,
		Branch:      ev.WorkflowRun.HeadBranch,
		Status:      mapStatus(ev.WorkflowRun.Conclusion),
		CompletedAt: ev.WorkflowRun.UpdatedAt,
		URL:         ev.WorkflowRun.HTMLURL,
	}
	if ev.WorkflowRun.CreatedAt != nil {
		p.StartedAt = *ev.WorkflowRun.CreatedAt
	}
	return p
}

// githubConclusion maps a GitHub Actions conclusion to the canonical status.
// Total: every unrecognized or empty conclusion is in_progress.
func githubConclusion(c string) string {
	switch c {
	case "success":
		return types.StatusSuccess
	case "failure", "timed_out", "startup_failure":
		return types.StatusFailure
	case "cancelled":
		return types.StatusCancelled
	default:
		return types.StatusInProgress
	}
}

// jenkinsConclusion maps a Jenkins build result to the canonical status.
// Total: a null result means the build is still running.
func jenkinsConclusion(c string) string {
	switch c {
	case "success", "SUCCESS":
		return types.StatusSuccess
	case "failure", "FAILURE":
		return types.StatusFailure
	case "aborted", "ABORTED":
		return types.StatusCancelled
	default:
		return types.StatusInProgress
	}
}
