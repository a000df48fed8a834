package ctl

import (
	"encoding/json"
	"errors"
	"net/url"
)

// CommandResult mirrors the daemon's reply to a state-changing request.
type CommandResult struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SendOptions configures the send command.
type SendOptions struct {
	Channel string
	Payload string
	JSON    bool
}

// Send pushes one message through the daemon's direct input path, the same
// way a page URL's channel/json pair is processed.
func Send(baseURL string, opts SendOptions) error {
	if opts.Channel == "" {
		return errors.New("a channel name is required")
	}
	var res CommandResult
	err := postJSON(baseURL, "/api/dispatch", map[string]string{
		"channel": opts.Channel,
		"json":    opts.Payload,
	}, &res)
	if err != nil {
		return err
	}
	return printResult(res, opts.JSON)
}

// ChildOptions configures the child command.
type ChildOptions struct {
	Name   string
	Action string
	Body   string
	JSON   bool
}

// Child invokes a user action, such as toggle or submit, on a child screen.
func Child(baseURL string, opts ChildOptions) error {
	if opts.Name == "" || opts.Action == "" {
		return errors.New("child name and action are required")
	}
	var body []byte
	if opts.Body != "" {
		if !json.Valid([]byte(opts.Body)) {
			return errors.New("action body must be valid JSON")
		}
		body = []byte(opts.Body)
	}
	path := "/api/children/" + url.PathEscape(opts.Name) + "/" + url.PathEscape(opts.Action)

	var res CommandResult
	if err := postJSON(baseURL, path, body, &res); err != nil {
		return err
	}
	return printResult(res, opts.JSON)
}

func printResult(res CommandResult, jsonOutput bool) error {
	if jsonOutput {
		return printJSON(res)
	}
	outln()
	outf("  %s  %s\n", colorize(green, "OK"), res.Message)
	if len(res.Data) > 0 && string(res.Data) != "null" {
		var v any
		if err := json.Unmarshal(res.Data, &v); err == nil {
			pretty, _ := json.MarshalIndent(v, "  ", "  ")
			outf("  %s\n", string(pretty))
		}
	}
	outln()
	return nil
}
