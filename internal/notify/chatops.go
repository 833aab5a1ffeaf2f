package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsense/internal/resilience"
)

// ChatOps posts a formatted message to a chat webhook (Slack-compatible
// incoming webhook shape).
type ChatOps struct {
	url    string
	client *http.Client
}

// NewChatOps creates a chat-ops channel.
func NewChatOps(url string, timeout time.Duration) *ChatOps {
	return &ChatOps{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *ChatOps) Name() string { return "chatops" }

type chatMessage struct {
	Text        string           `json:"text"`
	Attachments []chatAttachment `json:"attachments,omitempty"`
}

type chatAttachment struct {
	Color  string      `json:"color"`
	Fields []chatField `json:"fields"`
}

type chatField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (c *ChatOps) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(formatChatMessage(n))
	if err != nil {
		return eris.Wrap(err, "chatops: marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "chatops: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "chatops: post"), 0)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		err := eris.Errorf("chatops: endpoint returned %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}

func formatChatMessage(n Notification) chatMessage {
	lead := n.Lead

	name := lead.Name
	if name == "" {
		name = "Unknown contact"
	}
	headline := fmt.Sprintf(":dart: %s scored %d (%s intent)", name, lead.Score, lead.IntentLevel)
	if lead.Qualified {
		headline = fmt.Sprintf(":dart: Qualified lead: %s scored %d", name, lead.Score)
	}

	fields := []chatField{
		{Title: "Score", Value: fmt.Sprintf("%d", lead.Score), Short: true},
		{Title: "Intent", Value: string(lead.IntentLevel), Short: true},
	}
	if lead.Company != "" {
		fields = append(fields, chatField{Title: "Company", Value: lead.Company, Short: true})
	}
	if lead.Role != "" {
		fields = append(fields, chatField{Title: "Role", Value: lead.Role, Short: true})
	}
	if lead.Email != "" {
		fields = append(fields, chatField{Title: "Email", Value: lead.Email, Short: true})
	}
	if lead.Phone != "" {
		fields = append(fields, chatField{Title: "Phone", Value: lead.Phone, Short: true})
	}
	if lead.Interest != "" {
		fields = append(fields, chatField{Title: "Interest", Value: lead.Interest, Short: false})
	}

	return chatMessage{
		Text: headline,
		Attachments: []chatAttachment{
			{Color: scoreColor(lead.Score), Fields: fields},
		},
	}
}

// scoreColor maps score bands to attachment colors: hot, warm, cold.
func scoreColor(score int) string {
	switch {
	case score >= 85:
		return "#e01e5a"
	case score >= 70:
		return "#ecb22e"
	default:
		return "#36c5f0"
	}
}
