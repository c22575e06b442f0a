package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const classifyPromptTmpl = `You route messages for a personal task assistant.
Decide whether the user's message is about managing their tasks and calendar
(adding, updating, deleting, or asking about their scheduled tasks) or a
general-knowledge question unrelated to their task list.
The user's current tasks appear in the conversation history after DATARESULT.

Context:
- Previous conversation: %s
- User input: %q

Respond in JSON with this structure:
{
  "category": "task_management" or "general_knowledge",
  "history": "for general_knowledge only: the few history lines relevant to the question, otherwise an empty string"
}`

const dialogPromptTmpl = `You are a personal assistant bot managing the user's tasks.
Based on the user's message you can add a task to the calendar, update a
specific task, or delete a specific task. You handle one action at a time.
The user's current tasks are given in the conversation history after DATARESULT.

Rules:
- When adding a task, a provided start date-time must be in the future
  relative to the current date and time given below.
- If only a start date-time is provided, ask the user for the end date-time.
  If the user does not want to give one, default the end to one minute after
  the start.
- When updating a calendar-synced task's timing, the new timing must be in
  the future.
- Before deleting, confirm with the user and name the task being deleted;
  the action cannot be undone.
- When the user asks to see tasks, answer in sentences, not JSON.
- Set isInfoIncomplete to true whenever more information is still needed;
  only set a dbAction other than "noaction" once the information is complete.
- Dates use YYYY-MM-DD, times use HH:MM. Decide the payload shape from
  dbAction:
  - add: {"task","desc","summary","startdate","starttime","enddate","endtime","daily","other_info"}
  - update: {"updatedPayload":{"task_id":"<id>","task":{full task object with updated fields}}}
  - delete: {"deletePayload":[{"_id":"<id>","addedToCalendar":true/false}]}

Context:
- Current date: %s (%s)
- Current time: %s
- Previous conversation: %s
- User input: %q

Respond in JSON:
{
  "text": "reply to the user",
  "isInfoIncomplete": true/false,
  "dbAction": "add/update/delete/noaction",
  "calendarAction": "add/update/delete/noaction",
  "payload": { ... }
}`

const conflictPromptTmpl = `You narrate a schedule conflict check and draft notifications
for a personal task assistant.

First: the user wants to %s a task. A mechanical overlap scan already ran;
its result is given below. Using it and the task list, write a reply for the
user. When there is a conflict, say precisely which tasks overlap.

Second: write an on-start notification (title and body) for the task.

Third: write a short follow-up message the bot will send 10 minutes after
the task starts, asking how it is going.

Context:
- Intent: %s
- Overlap scan result: %s
- Existing tasks: %s
- New/updated task: %s
- Draft reply: %q

Respond in JSON:
{
  "isConflict": true/false,
  "text": "reply to the user; on conflict, name the overlapping tasks",
  "title": "on-start notification title",
  "body": "on-start notification body",
  "title1": "follow-up message title",
  "body1": "follow-up message body"
}`

const generalPromptTmpl = `Answer the user's question using your general knowledge.
Keep the answer short and conversational.

Context:
- Relevant history: %s
- Question: %q

Respond in JSON:
{
  "res": "answer for the user"
}`

const conversePromptTmpl = `You are having a casual conversation with the user.
Reply in at most 70 words.

Context:
- History: %s
- Message: %q

Respond in JSON:
{
  "res": "reply to give to the user"
}`

const notificationPromptTmpl = `Write a creative, friendly notification for the given task.
The title and body must differ from any earlier wording of the task.

Context:
- Task: %s

Respond in JSON:
{
  "title": "notification title",
  "body": "notification body"
}`

func buildClassifyPrompt(input, history string) string {
	return fmt.Sprintf(classifyPromptTmpl, history, input)
}

func buildDialogPrompt(input, history string, now time.Time) string {
	return fmt.Sprintf(dialogPromptTmpl,
		now.Format("2006-01-02"), now.Weekday(), now.Format("15:04"),
		history, input)
}

func buildConflictPrompt(intent, scanJSON, tasksJSON, candidateJSON, draft string) string {
	return fmt.Sprintf(conflictPromptTmpl, intent, intent, scanJSON, tasksJSON, candidateJSON, draft)
}

func buildGeneralPrompt(input, history string) string {
	return fmt.Sprintf(generalPromptTmpl, history, input)
}

func buildConversePrompt(input, history string) string {
	return fmt.Sprintf(conversePromptTmpl, history, input)
}

func buildNotificationPrompt(task string) string {
	return fmt.Sprintf(notificationPromptTmpl, task)
}

// extractJSON trims any non-JSON text the model wraps around its response.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
