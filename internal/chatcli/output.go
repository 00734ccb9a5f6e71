// output.go holds CLI output helpers.
package chatcli

import (
	"fmt"
	"strings"
	"time"

	"github.com/contenox/chatsync/chatstore"
)

// formatMessage renders one line per message; the caller's own messages are
// marked "me".
func formatMessage(m *chatstore.Message, self string) string {
	who := m.SenderID
	if who == self {
		who = "me"
	}
	return fmt.Sprintf("[%s] %s: %s", formatMillis(m.CreatedAtMillis), who, m.Text)
}

// formatMillis formats epoch milliseconds in local time; 0 renders as "-".
func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

// preview flattens s to one line and cuts it to n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// maskToken keeps the first and last four characters.
func maskToken(token string) string {
	if len(token) <= 12 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "…" + token[len(token)-4:]
}
