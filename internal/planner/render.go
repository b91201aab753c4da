package planner

import (
	"fmt"
	"strings"

	"github.com/starford/timeblocker/internal/models"
)

// RenderSchedule formats blocks as a Markdown checklist.
func RenderSchedule(bs []models.TimeBlock) string {
	if len(bs) == 0 {
		return "No time blocks scheduled for today."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Schedule for %s\n\n", bs[0].Date)
	for _, b := range bs {
		mark := " "
		if b.IsDone {
			mark = "x"
		}
		fmt.Fprintf(&sb, "- [%s] %s-%s %s (id: %s)\n", mark, b.StartTime, b.EndTime, b.TaskText, b.ID)
	}
	return sb.String()
}
