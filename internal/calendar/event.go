package calendar

import (
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/kalambet/daybot/internal/schedule"
	"github.com/kalambet/daybot/internal/storage"
)

const dateTimeLayout = schedule.DateLayout + " " + schedule.TimeLayout

// reminderLeadMinutes is how far before the event start the popup fires.
const reminderLeadMinutes = 5

// buildEvent maps a task onto a calendar event. On create a missing end
// defaults to one hour after the start; on update the task is expected to
// carry a complete slot already.
func buildEvent(t storage.Task, timezone string, create bool) (*calendar.Event, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}

	if t.StartDate == "" || t.StartTime == "" {
		return nil, fmt.Errorf("task %q: missing start date or time", t.Title)
	}
	start, err := time.ParseInLocation(dateTimeLayout, t.StartDate+" "+t.StartTime, loc)
	if err != nil {
		return nil, fmt.Errorf("parsing start: %w", err)
	}

	var end time.Time
	if t.EndDate != "" && t.EndTime != "" {
		end, err = time.ParseInLocation(dateTimeLayout, t.EndDate+" "+t.EndTime, loc)
		if err != nil {
			return nil, fmt.Errorf("parsing end: %w", err)
		}
	} else if create {
		end = start.Add(time.Hour)
	} else {
		return nil, fmt.Errorf("task %q: missing end date or time", t.Title)
	}

	ev := &calendar.Event{
		Summary:     t.Title,
		Description: t.Description,
		Start: &calendar.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: timezone,
		},
		End: &calendar.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: timezone,
		},
		// Always set, so patching a daily task to one-off clears the rule.
		Recurrence: []string{},
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "popup", Minutes: reminderLeadMinutes},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}
	if t.Daily {
		ev.Recurrence = []string{"RRULE:FREQ=DAILY"}
	}
	return ev, nil
}
