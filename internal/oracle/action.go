package oracle

import (
	"encoding/json"
	"fmt"

	"github.com/kalambet/daybot/internal/storage"
)

// DBAction names the persistence/calendar operation a resolved dialog asks for.
type DBAction string

const (
	ActionAdd    DBAction = "add"
	ActionUpdate DBAction = "update"
	ActionDelete DBAction = "delete"
	ActionNone   DBAction = "noaction"
)

func (a DBAction) valid() bool {
	switch a {
	case ActionAdd, ActionUpdate, ActionDelete, ActionNone:
		return true
	}
	return false
}

// TaskPayload is the task content carried by an add or update action.
type TaskPayload struct {
	Title           string `json:"task"`
	Description     string `json:"desc"`
	Summary         string `json:"summary"`
	StartDate       string `json:"startdate"`
	StartTime       string `json:"starttime"`
	EndDate         string `json:"enddate"`
	EndTime         string `json:"endtime"`
	Daily           bool   `json:"daily"`
	OtherInfo       string `json:"other_info"`
	AddedToCalendar bool   `json:"addedToCalendar"`
}

// Task converts the payload into a storage task owned by owner.
func (p TaskPayload) Task(owner string) storage.Task {
	return storage.Task{
		Owner:           owner,
		Title:           p.Title,
		Description:     p.Description,
		Summary:         p.Summary,
		StartDate:       p.StartDate,
		StartTime:       p.StartTime,
		EndDate:         p.EndDate,
		EndTime:         p.EndTime,
		Daily:           p.Daily,
		OtherInfo:       p.OtherInfo,
		AddedToCalendar: p.AddedToCalendar,
	}
}

// UpdatePayload identifies the task being updated and carries its new content.
type UpdatePayload struct {
	TaskID string
	Task   TaskPayload
}

// DeleteItem is one entry of a delete action's payload.
type DeleteItem struct {
	TaskID          string `json:"_id"`
	AddedToCalendar bool   `json:"addedToCalendar"`
}

// Action is a resolved dialog turn: the drafted reply plus exactly one
// payload variant matching DBAction. Decoding validates the variant at the
// boundary so the pipeline can branch without re-checking shapes.
type Action struct {
	Text             string
	IsInfoIncomplete bool
	DBAction         DBAction
	CalendarAction   DBAction

	// Exactly one of these is set, per DBAction.
	Add    *TaskPayload
	Update *UpdatePayload
	Delete []DeleteItem
}

// rawAction mirrors the JSON shape the model produces.
type rawAction struct {
	Text             string          `json:"text"`
	IsInfoIncomplete bool            `json:"isInfoIncomplete"`
	DBAction         DBAction        `json:"dbAction"`
	CalendarAction   DBAction        `json:"calendarAction"`
	Payload          json.RawMessage `json:"payload"`
}

type rawUpdatePayload struct {
	Updated struct {
		TaskID string          `json:"task_id"`
		Task   json.RawMessage `json:"task"`
	} `json:"updatedPayload"`
}

type rawDeletePayload struct {
	Items []DeleteItem `json:"deletePayload"`
}

// decodeAction parses the model's dialog response and validates the payload
// variant against dbAction.
func decodeAction(data []byte) (Action, error) {
	var raw rawAction
	if err := json.Unmarshal(data, &raw); err != nil {
		return Action{}, fmt.Errorf("parsing dialog response: %w", err)
	}
	if !raw.DBAction.valid() {
		return Action{}, fmt.Errorf("unknown dbAction %q", raw.DBAction)
	}
	if !raw.CalendarAction.valid() {
		return Action{}, fmt.Errorf("unknown calendarAction %q", raw.CalendarAction)
	}

	act := Action{
		Text:             raw.Text,
		IsInfoIncomplete: raw.IsInfoIncomplete,
		DBAction:         raw.DBAction,
		CalendarAction:   raw.CalendarAction,
	}

	// A dialog still gathering information carries no actionable payload.
	if act.IsInfoIncomplete || act.DBAction == ActionNone {
		return act, nil
	}

	if len(raw.Payload) == 0 {
		return Action{}, fmt.Errorf("action %q: missing payload", raw.DBAction)
	}

	switch raw.DBAction {
	case ActionAdd:
		var p TaskPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return Action{}, fmt.Errorf("parsing add payload: %w", err)
		}
		act.Add = &p
	case ActionUpdate:
		var rp rawUpdatePayload
		if err := json.Unmarshal(raw.Payload, &rp); err != nil {
			return Action{}, fmt.Errorf("parsing update payload: %w", err)
		}
		if rp.Updated.TaskID == "" {
			return Action{}, fmt.Errorf("update payload: missing task_id")
		}
		var p TaskPayload
		if len(rp.Updated.Task) > 0 {
			if err := json.Unmarshal(rp.Updated.Task, &p); err != nil {
				return Action{}, fmt.Errorf("parsing updated task: %w", err)
			}
		}
		act.Update = &UpdatePayload{TaskID: rp.Updated.TaskID, Task: p}
	case ActionDelete:
		var rp rawDeletePayload
		if err := json.Unmarshal(raw.Payload, &rp); err != nil {
			return Action{}, fmt.Errorf("parsing delete payload: %w", err)
		}
		if len(rp.Items) == 0 {
			return Action{}, fmt.Errorf("delete payload: no items")
		}
		act.Delete = rp.Items
	}

	return act, nil
}
