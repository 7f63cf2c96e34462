package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/gookit/color"
)

const stampLayout = "2006-01-02 15:04:05"

type renderer struct {
	colors bool
	loc    *time.Location
}

// line renders msg as "<local time>: <author> > <body>".
func (r renderer) line(msg frame.ChatMessage) string {
	loc := r.loc
	if loc == nil {
		loc = time.Local
	}
	stamp := msg.Time().In(loc).Format(stampLayout)
	author := string(msg.Author)
	body := string(msg.Body)
	if !r.colors {
		return fmt.Sprintf("%s: %s > %s", stamp, author, body)
	}

	stamp = color.New(color.FgGray).Render(stamp)
	switch {
	case msg.FromServer() && strings.HasPrefix(body, "ERR:"):
		return fmt.Sprintf("%s: %s > %s", stamp, color.New(color.FgRed, color.OpBold).Render(author), color.New(color.FgRed).Render(body))
	case msg.FromServer():
		return fmt.Sprintf("%s: %s > %s", stamp, color.New(color.FgYellow, color.OpBold).Render(author), color.New(color.FgYellow).Render(body))
	default:
		return fmt.Sprintf("%s: %s > %s", stamp, color.New(color.FgCyan).Render(author), body)
	}
}
