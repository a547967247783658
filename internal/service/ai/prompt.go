package ai

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

const groundingRules = `Answer using the document excerpts below when they are relevant.
If the excerpts do not contain the answer, say that the documents do not cover it.
Do not invent citations.`

// buildSystemPrompt combines assistant and run instructions with the
// retrieved excerpts.
func buildSystemPrompt(assistantInstructions, runInstructions string, excerpts []chunk) string {
	var builder strings.Builder
	if s := strings.TrimSpace(assistantInstructions); s != "" {
		builder.WriteString(s)
		builder.WriteString("\n\n")
	}
	if s := strings.TrimSpace(runInstructions); s != "" {
		builder.WriteString(s)
		builder.WriteString("\n\n")
	}
	builder.WriteString(groundingRules)

	if len(excerpts) == 0 {
		builder.WriteString("\n\nNo document excerpts are available.")
		return builder.String()
	}

	builder.WriteString("\n\nDocument excerpts:")
	for i, c := range excerpts {
		builder.WriteString(fmt.Sprintf("\n\n[%d] (source: %s)\n%s", i+1, c.source, strings.TrimSpace(c.text)))
	}
	return builder.String()
}

func buildHistoryMessages(messages []*schema.Message, limit int) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if limit > 0 && len(messages) > limit {
		startIdx = len(messages) - limit
	}
	return append([]*schema.Message(nil), messages[startIdx:]...)
}

func lastUserContent(messages []*schema.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == schema.User {
			return messages[i].Content
		}
	}
	return ""
}
