// Package calendar syncs tasks to Google Calendar. Each client is built
// per request from the caller's access token; the service never holds
// long-lived credentials.
package calendar

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/kalambet/daybot/internal/storage"
)

// Client wraps the Google Calendar events API for a single user token.
type Client struct {
	srv        *calendar.Service
	calendarID string
	timezone   string
}

// NewClient builds a calendar client from the user's OAuth access token.
func NewClient(ctx context.Context, accessToken, calendarID, timezone string) (*Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	srv, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}
	return &Client{srv: srv, calendarID: calendarID, timezone: timezone}, nil
}

// Create inserts an event for the task and returns the event ID.
func (c *Client) Create(ctx context.Context, t storage.Task) (string, error) {
	ev, err := buildEvent(t, c.timezone, true)
	if err != nil {
		return "", fmt.Errorf("building event: %w", err)
	}
	created, err := c.srv.Events.Insert(c.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("inserting event: %w", err)
	}
	return created.Id, nil
}

// Update patches the event backing the task. The recurrence list is always
// written so turning a daily task into a one-off clears the rule.
func (c *Client) Update(ctx context.Context, eventID string, t storage.Task) error {
	ev, err := buildEvent(t, c.timezone, false)
	if err != nil {
		return fmt.Errorf("building event: %w", err)
	}
	if _, err := c.srv.Events.Patch(c.calendarID, eventID, ev).Context(ctx).Do(); err != nil {
		return fmt.Errorf("patching event %s: %w", eventID, err)
	}
	return nil
}

// Delete removes the event from the calendar.
func (c *Client) Delete(ctx context.Context, eventID string) error {
	if err := c.srv.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("deleting event %s: %w", eventID, err)
	}
	return nil
}
