package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pipepulse/pipepulse/agent/internal/config"
	"github.com/pipepulse/pipepulse/pkg/types"
)

// githubAPIBase is overridable so tests can point at an httptest server.
var githubAPIBase = "https://api.github.com"

// githubCollector polls the GitHub Actions runs API for one repository.
type githubCollector struct {
	src    config.Source
	client *http.Client

	// lastRunID is the highest completed run ID already shipped. Runs at or
	// below it are skipped; in-progress runs above it are left for a later
	// cycle so they are shipped exactly once, with their final conclusion.
	lastRunID int64
}

// githubRun is the subset of a workflow run this collector consumes.
type githubRun struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	HeadBranch string     `json:"head_branch"`
	Status     string     `json:"status"`
	Conclusion string     `json:"conclusion"`
	HTMLURL    string     `json:"html_url"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

func (c *githubCollector) Collect(ctx context.Context) ([]Event, error) {
	url := fmt.Sprintf("%s/repos/%s/actions/runs?per_page=%d",
		githubAPIBase, c.src.Repo, pageSize(c.src))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("collector %q: build request: %w", c.src.ID, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collector %q: poll github: %w", c.src.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("collector %q: github returned status %d", c.src.ID, resp.StatusCode)
	}

	var body struct {
		WorkflowRuns []githubRun `json:"workflow_runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("collector %q: decode response: %w", c.src.ID, err)
	}

	// Runs arrive newest first. Walk oldest-to-newest so shipped events keep
	// chronological order.
	var events []Event
	maxID := c.lastRunID
	for i := len(body.WorkflowRuns) - 1; i >= 0; i-- {
		run := body.WorkflowRuns[i]
		if run.ID <= c.lastRunID || run.Status != "completed" {
			continue
		}
		events = append(events, Event{
			Provider: types.ProviderGitHub,
			Payload: types.IngestPayload{
				Pipeline:    run.Name,
				Repo:        runRepo(run, c.src.Repo),
				Branch:      run.HeadBranch,
				Status:      githubStatus(run.Conclusion),
				StartedAt:   run.CreatedAt,
				CompletedAt: run.UpdatedAt,
				URL:         run.HTMLURL,
			},
		})
		if run.ID > maxID {
			maxID = run.ID
		}
	}
	c.lastRunID = maxID

	return events, nil
}

// runRepo prefers the repository name reported by the API, falling back to
// the configured one.
func runRepo(run githubRun, fallback string) string {
	if run.Repository.FullName != "" {
		return run.Repository.FullName
	}
	return fallback
}

// githubStatus maps a GitHub Actions conclusion to the canonical status.
// Total: every unrecognized or empty conclusion is in_progress.
func githubStatus(conclusion string) string {
	switch conclusion {
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
