package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	webhookx "github.com/tanpawarit/agent-orchestrator/agent/webhook"
)

// PayloadFlags reads the payload from --file, the positional argument, or stdin.
type PayloadFlags struct {
	Payload string `arg:"" optional:"" help:"Payload to sign. Reads stdin when omitted."`
	File    string `short:"f" type:"existingfile" help:"Read the payload from a file."`
}

func (p PayloadFlags) read(in io.Reader) ([]byte, error) {
	switch {
	case p.File != "":
		return os.ReadFile(p.File)
	case p.Payload != "":
		return []byte(p.Payload), nil
	default:
		return io.ReadAll(in)
	}
}

type SignCmd struct {
	PayloadFlags `embed:""`

	Secret string `required:"" env:"AGENTCTL_SECRET" help:"Shared webhook secret."`
}

func (c *SignCmd) Run(rc *runContext) error {
	payload, err := c.read(rc.In)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(rc.Out, webhookx.Sign(payload, c.Secret))
	return err
}

type VerifyCmd struct {
	PayloadFlags `embed:""`

	Secret    []string `required:"" env:"AGENTCTL_SECRET" sep:"," help:"Secret, or comma-separated current and next secrets."`
	Signature string   `required:"" short:"s" help:"Hex signature to check."`
}

var errBadSignature = errors.New("signature does not match")

func (c *VerifyCmd) Run(rc *runContext) error {
	payload, err := c.read(rc.In)
	if err != nil {
		return err
	}
	if !webhookx.VerifyAny(payload, c.Signature, c.Secret...) {
		return errBadSignature
	}
	_, err = fmt.Fprintln(rc.Out, "valid")
	return err
}

type ServerFlags struct {
	Server  string        `default:"http://localhost:8000" env:"AGENTCTL_SERVER" help:"Orchestrator base URL."`
	Timeout time.Duration `default:"30s" help:"HTTP timeout per call."`
}

func (s ServerFlags) client() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(s.Server, "/"),
		http:    &http.Client{Timeout: s.Timeout},
	}
}

type SubmitCmd struct {
	ServerFlags `embed:""`

	Text          string        `arg:"" help:"Text to analyze."`
	Mode          string        `enum:"sequential,parallel" default:"sequential" help:"Execution mode."`
	WebhookURL    string        `name:"webhook-url" help:"Deliver the result to this URL."`
	WebhookSecret string        `name:"webhook-secret" help:"Sign the webhook with this secret."`
	Wait          bool          `help:"Poll until the request finishes and print the result."`
	PollInterval  time.Duration `name:"poll-interval" default:"500ms" help:"Delay between polls with --wait."`
}

func (c *SubmitCmd) Run(rc *runContext) error {
	ctx := context.Background()
	api := c.client()

	accepted, err := api.do(ctx, http.MethodPost, "/process", map[string]string{
		"text":               c.Text,
		"orchestration_mode": c.Mode,
		"webhook_url":        c.WebhookURL,
		"webhook_secret":     c.WebhookSecret,
	})
	if err != nil {
		return err
	}
	if !c.Wait {
		return printJSON(rc.Out, accepted)
	}

	var ack struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(accepted, &ack); err != nil || ack.RequestID == "" {
		return fmt.Errorf("unexpected submit response: %s", accepted)
	}
	rc.Log.Debug().Str("request_id", ack.RequestID).Msg("waiting for result")

	for {
		raw, err := api.do(ctx, http.MethodGet, "/results/"+url.PathEscape(ack.RequestID), nil)
		if err != nil {
			return err
		}
		var status struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(raw, &status); err != nil {
			return err
		}
		if status.Status == "completed" || status.Status == "failed" {
			return printJSON(rc.Out, raw)
		}
		time.Sleep(c.PollInterval)
	}
}

type ResultCmd struct {
	ServerFlags `embed:""`

	RequestID string `arg:"" help:"Request ID."`
}

func (c *ResultCmd) Run(rc *runContext) error {
	raw, err := c.client().do(context.Background(), http.MethodGet, "/results/"+url.PathEscape(c.RequestID), nil)
	if err != nil {
		return err
	}
	return printJSON(rc.Out, raw)
}

type RetryCmd struct {
	ServerFlags `embed:""`

	RequestID string `arg:"" help:"Request ID."`
}

func (c *RetryCmd) Run(rc *runContext) error {
	raw, err := c.client().do(context.Background(), http.MethodPost, "/webhook/retry/"+url.PathEscape(c.RequestID), nil)
	if err != nil {
		return err
	}
	return printJSON(rc.Out, raw)
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

type apiError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return nil, apiErr
	}
	return raw, nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = w.Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
