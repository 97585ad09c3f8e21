package notifier

import (
	"strings"
	"time"
)

// Telegram 单条消息上限 4096，留出 markdown 包裹的余量。
const maxMessageLen = 3800

type Section struct {
	Title string
	Lines []string
}

// Message 渲染为一个标题加若干代码块段落的 Markdown 文本。
type Message struct {
	Icon      string
	Title     string
	Sections  []Section
	Footer    string
	Timestamp time.Time
}

func (m Message) Markdown() string {
	var b strings.Builder
	if head := strings.TrimSpace(m.Icon + " " + m.Title); head != "" {
		b.WriteString(head)
		b.WriteString("\n\n")
	}
	var blocks []string
	for _, sec := range m.Sections {
		lines := nonEmpty(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		var sb strings.Builder
		if title := strings.TrimSpace(sec.Title); title != "" {
			sb.WriteString(escapeFence(title))
			sb.WriteString("\n")
		}
		for _, line := range lines {
			sb.WriteString("- ")
			sb.WriteString(escapeFence(line))
			sb.WriteString("\n")
		}
		blocks = append(blocks, sb.String())
	}
	if len(blocks) > 0 {
		b.WriteString("```\n")
		b.WriteString(strings.Join(blocks, "\n"))
		b.WriteString("```\n\n")
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(escapeFence(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：")
		b.WriteString(m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	out := strings.TrimSpace(b.String())
	if len(out) > maxMessageLen {
		out = out[:maxMessageLen] + "..."
	}
	return out
}

func nonEmpty(lines []string) []string {
	out := lines[:0:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
