package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pipepulse/pipepulse/agent/internal/config"
	"github.com/pipepulse/pipepulse/pkg/types"
)

// jenkinsCollector polls the Jenkins JSON API for one job.
type jenkinsCollector struct {
	src    config.Source
	client *http.Client

	// lastNumber is the highest finished build number already shipped.
	// Running builds (null result) above it wait for a later cycle.
	lastNumber int64
}

// jenkinsBuild is the subset of a Jenkins build this collector consumes.
// Timestamp and Duration are in milliseconds, per the Jenkins API.
type jenkinsBuild struct {
	Number    int64  `json:"number"`
	Result    string `json:"result"`
	Timestamp int64  `json:"timestamp"`
	Duration  int64  `json:"duration"`
	URL       string `json:"url"`
}

func (c *jenkinsCollector) Collect(ctx context.Context) ([]Event, error) {
	url := fmt.Sprintf("%s/job/%s/api/json?tree=builds[number,result,timestamp,duration,url]{0,%d}",
		strings.TrimRight(c.src.BaseURL, "/"), c.src.Job, pageSize(c.src))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("collector %q: build request: %w", c.src.ID, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collector %q: poll jenkins: %w", c.src.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("collector %q: jenkins returned status %d", c.src.ID, resp.StatusCode)
	}

	var body struct {
		Builds []jenkinsBuild `json:"builds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("collector %q: decode response: %w", c.src.ID, err)
	}

	// Builds arrive newest first. Walk oldest-to-newest so shipped events
	// keep chronological order.
	var events []Event
	maxNumber := c.lastNumber
	for i := len(body.Builds) - 1; i >= 0; i-- {
		b := body.Builds[i]
		if b.Number <= c.lastNumber || b.Result == "" {
			continue
		}

		started := time.UnixMilli(b.Timestamp).UTC()
		p := types.IngestPayload{
			Pipeline:  c.src.Job,
			Repo:      c.src.Job,
			Status:    jenkinsStatus(b.Result),
			StartedAt: started,
			URL:       b.URL,
		}
		if b.Duration > 0 {
			completed := started.Add(time.Duration(b.Duration) * time.Millisecond)
			secs := float64(b.Duration) / 1000.0
			p.CompletedAt = &completed
			p.DurationSeconds = &secs
		}

		events = append(events, Event{Provider: types.ProviderJenkins, Payload: p})
		if b.Number > maxNumber {
			maxNumber = b.Number
		}
	}
	c.lastNumber = maxNumber

	return events, nil
}

// jenkinsStatus maps a Jenkins build result to the canonical status.
// Total: anything unrecognized (UNSTABLE, NOT_BUILT) is in_progress.
func jenkinsStatus(result string) string {
	switch result {
	case "SUCCESS":
		return types.StatusSuccess
	case "FAILURE":
		return types.StatusFailure
	case "ABORTED":
		return types.StatusCancelled
	default:
		return types.StatusInProgress
	}
}
