package agent

import (
	"strconv"
	"strings"

	"github.com/ciaranashton/relay-agent/internal/domain"
)

// BuildSystemPrompt renders the agent persona, its instructions and the
// optional triage rules.
func BuildSystemPrompt(name, description, instructions string, triage *domain.TriagePolicy) string {
	var b strings.Builder
	b.WriteString("You are " + name + ". " + description + "\n")
	b.WriteString("\n## Instructions\n")
	b.WriteString(instructions + "\n")
	b.WriteString("\n## Guidelines\n")
	b.WriteString("- Use the available tools to query data, write data, and take actions.\n")
	b.WriteString("- Always verify data before writing (e.g., check for duplicates).\n")
	b.WriteString("- Provide clear, concise responses.\n")
	b.WriteString("- If you're unsure, use the triage action to escalate to a human.")

	if triage != nil {
		b.WriteString("\n\n## Triage Rules\n")
		b.WriteString("- If your confidence in handling this message is below " + percent(triage.ConfidenceThreshold) + "%, use the triage action.\n")
		b.WriteString("- ALWAYS triage messages containing these keywords: " + strings.Join(triage.AlwaysTriage, ", ") + ".\n")
		b.WriteString("- Maximum " + strconv.Itoa(triage.MaxAutoReplies) + " auto-replies per conversation before requiring human review.")
		if triage.IncludeRecommendation {
			b.WriteString("\n- When triaging, include your recommended response for the human to review.")
		}
	}
	return b.String()
}

// FormatMessage renders the inbound message as the user turn.
func FormatMessage(msg domain.Message) string {
	parts := []string{
		"Channel: " + string(msg.Channel),
		"From: " + msg.From,
	}
	if msg.To != "" {
		parts = append(parts, "To: "+msg.To)
	}
	if msg.Subject != "" {
		parts = append(parts, "Subject: "+msg.Subject)
	}
	parts = append(parts, "Date: "+msg.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000Z"), "", msg.Body)

	if len(msg.Attachments) > 0 {
		names := make([]string, len(msg.Attachments))
		for i, a := range msg.Attachments {
			names[i] = a.Filename + " (" + a.ContentType + ")"
		}
		parts = append(parts, "", "Attachments: "+strings.Join(names, ", "))
	}
	return strings.Join(parts, "\n")
}

// percent formats a 0..1 ratio without float noise (0.7 -> "70").
func percent(ratio float64) string {
	v := float64(int64(ratio*10000+0.5)) / 100
	return strconv.FormatFloat(v, 'f', -1, 64)
}
