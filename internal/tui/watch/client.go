package watch

import (
	"bufio"
	"encoding/json"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/transcriptd/internal/api"
	"github.com/mattjoyce/transcriptd/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg api.HealthzResponse

type jobsMsg []api.JobResponse

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

func authedRequest(method, url, apiKey string) (*http.Request, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// --- Commands ---

// subscribeToEvents connects to the SSE /events endpoint and feeds
// events into the provided channel. Returns sseDisconnectedMsg when
// the connection drops.
func subscribeToEvents(apiURL, apiKey string, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := authedRequest("GET", apiURL+"/events", apiKey)
		if err != nil {
			return errMsg(err)
		}

		resp, err := (&http.Client{}).Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		// The data line carries the full event envelope as JSON;
		// id/event framing lines are redundant for this client.
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if len(line) < 6 || line[:6] != "data: " {
				continue
			}
			var ev events.Event
			if err := json.Unmarshal([]byte(line[6:]), &ev); err != nil {
				continue
			}
			ch <- ev
		}

		return sseDisconnectedMsg{}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL, apiKey string) tea.Msg {
	req, err := authedRequest("GET", apiURL+"/healthz", apiKey)
	if err != nil {
		return errMsg(err)
	}

	resp, err := (&http.Client{Timeout: 2 * time.Second}).Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}

// fetchJobs queries the /jobs endpoint.
func fetchJobs(apiURL, apiKey string) tea.Msg {
	req, err := authedRequest("GET", apiURL+"/jobs", apiKey)
	if err != nil {
		return errMsg(err)
	}

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var env api.JobsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errMsg(err)
	}
	return jobsMsg(env.Jobs)
}
