// internal/health/digest.go
package health

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/user/forwardmon/internal/types"
)

// Digest renders a one-shot HTML summary of every tracked subject, used for
// the scheduled daily report.
func Digest(registry *Registry) string {
	snapshot := registry.Snapshot()
	subjects := make([]string, 0, len(snapshot))
	for subject := range snapshot {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	var healthy, broken, rest int
	lines := []string{"📋 <b>Daily health digest</b>", ""}
	for _, subject := range subjects {
		status := snapshot[subject]
		icon := "🟡"
		switch status {
		case types.HealthOK:
			icon = "🟢"
			healthy++
		case types.HealthError:
			icon = "🔴"
			broken++
		case types.HealthDisabled:
			icon = "⚪"
			rest++
		default:
			rest++
		}
		lines = append(lines, icon+" "+html.EscapeString(subject))
	}
	if len(subjects) == 0 {
		lines = append(lines, "Nothing is monitored yet.")
	} else {
		lines = append(lines, "", fmt.Sprintf("%d healthy, %d failing, %d other", healthy, broken, rest))
	}
	return strings.Join(lines, "\n")
}
