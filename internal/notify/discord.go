// Package notify delivers session lifecycle events to chat webhooks and logs.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/valyala/bytebufferpool"

	"github.com/balkashynov/pomo/internal/timer"
)

// Embed colors by event kind.
const (
	colorGreen  = 3066993
	colorYellow = 16776960
	colorRed    = 15158332
)

type (
	// Discord posts events to a Discord webhook.
	Discord struct {
		url  string
		http *http.Client
		now  func() time.Time
	}

	discordMessage struct {
		Content string         `json:"content"`
		Embeds  []discordEmbed `json:"embeds,omitempty"`
	}

	discordEmbed struct {
		Author    discordAuthor  `json:"author"`
		Title     string         `json:"title"`
		Color     int            `json:"color"`
		Fields    []discordField `json:"fields"`
		Timestamp string         `json:"timestamp"`
		Footer    discordFooter  `json:"footer"`
	}

	discordAuthor struct {
		Name string `json:"name"`
	}

	discordField struct {
		Name   string `json:"name"`
		Value  string `json:"value"`
		Inline bool   `json:"inline"`
	}

	discordFooter struct {
		Text string `json:"text"`
	}
)

// NewDiscord returns a notifier posting to webhookURL. A nil client uses one
// with a 10s timeout.
func NewDiscord(webhookURL string, client *http.Client) (*Discord, error) {
	if webhookURL == "" {
		return nil, errors.New("discord webhook url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Discord{url: webhookURL, http: client, now: time.Now}, nil
}

// Notify posts ev as a message with a single embed.
func (d *Discord) Notify(ctx context.Context, ev timer.Event) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(d.message(ev)); err != nil {
		return fmt.Errorf("encode discord message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, strings.NewReader(buf.String()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("post discord webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord webhook: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (d *Discord) message(ev timer.Event) discordMessage {
	author := displayName(ev.UserName)
	if author == "" {
		author = "Pomodoro Timer"
	}
	title := ev.TaskName
	if title == "" {
		title = "No Task"
	}
	fields := []discordField{
		{Name: "Session", Value: "`" + ev.SessionID + "`"},
		{Name: timeFieldName(ev.Kind), Value: fmt.Sprintf("<t:%d:F>", ev.At.Unix()), Inline: true},
		{Name: "Status", Value: string(ev.Kind), Inline: true},
	}
	if ev.Kind != timer.EventStarted {
		fields = append(fields, discordField{Name: "Minutes", Value: fmt.Sprintf("%.2f", ev.AccumulatedMinutes), Inline: true})
	}
	if ev.Project != "" {
		fields = append(fields, discordField{Name: "Project", Value: ev.Project, Inline: true})
	}
	if ev.Auto {
		fields = append(fields, discordField{Name: "Completed by", Value: "timer", Inline: true})
	}
	return discordMessage{
		Content: ev.Label,
		Embeds: []discordEmbed{{
			Author:    discordAuthor{Name: author},
			Title:     "Task: " + title,
			Color:     color(ev.Kind),
			Fields:    fields,
			Timestamp: d.now().UTC().Format(time.RFC3339),
			Footer:    discordFooter{Text: "Stay focused!"},
		}},
	}
}

func color(kind timer.EventKind) int {
	switch kind {
	case timer.EventPaused, timer.EventResumed:
		return colorYellow
	case timer.EventCompleted, timer.EventReset:
		return colorRed
	default:
		return colorGreen
	}
}

func timeFieldName(kind timer.EventKind) string {
	switch kind {
	case timer.EventStarted:
		return "Started"
	case timer.EventPaused:
		return "Paused"
	case timer.EventResumed:
		return "Resumed"
	default:
		return "Ended"
	}
}

// displayName turns login style names ("jane_doe", "jane.doe", "janeDoe") into
// "Jane Doe".
func displayName(raw string) string {
	if raw == "" {
		return ""
	}
	var b strings.Builder
	var prev rune
	for _, r := range raw {
		switch {
		case r == '_' || r == '.':
			r = ' '
		case prev >= 'a' && prev <= 'z' && r >= 'A' && r <= 'Z':
			b.WriteRune(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	words := strings.Fields(b.String())
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}
