package ctl

import (
	"fmt"
	"strings"
	"time"
)

// MessagesOptions configures the messages and errors commands.
type MessagesOptions struct {
	Limit int
	JSON  bool
}

type journalMessage struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	JSON       string    `json:"json"`
	Source     string    `json:"source"`
	ReceivedAt time.Time `json:"received_at"`
}

type journalError struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func limitQuery(path string, limit int) string {
	if limit > 0 {
		return fmt.Sprintf("%s?limit=%d", path, limit)
	}
	return path
}

// Messages lists the journaled inbound messages, newest first.
func Messages(baseURL string, opts MessagesOptions) error {
	var resp struct {
		Messages []journalMessage `json:"messages"`
	}
	if err := getJSON(baseURL, limitQuery("/api/messages", opts.Limit), &resp); err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(resp)
	}

	outln()
	outln(header("  RECEIVED MESSAGES"))
	outln(rule(70))
	if len(resp.Messages) == 0 {
		outln("  No messages received yet.")
	}
	for _, m := range resp.Messages {
		body := m.JSON
		if body == "" {
			body = colorize(dim, "(empty)")
		}
		outf("  %s  %s %-9s %s\n",
			m.ReceivedAt.Local().Format("15:04:05"),
			colorize(cyan, padRight(m.Channel, 26)),
			colorize(dim, m.Source),
			truncate(body, 60),
		)
	}
	outln()
	return nil
}

// Errors lists recorded error details, newest first.
func Errors(baseURL string, opts MessagesOptions) error {
	var resp struct {
		Errors []journalError `json:"errors"`
	}
	if err := getJSON(baseURL, limitQuery("/api/errors", opts.Limit), &resp); err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(resp)
	}

	outln()
	outln(header("  ERROR DETAILS"))
	outln(rule(70))
	if len(resp.Errors) == 0 {
		outln("  No errors recorded.")
	}
	for _, e := range resp.Errors {
		outf("  %s  %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), colorize(red, strings.TrimSpace(e.Message)))
	}
	outln()
	return nil
}
