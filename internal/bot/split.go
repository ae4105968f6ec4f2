package bot

import "fmt"

// SplitReply cuts text into parts of at most limit runes. When more than one
// part is needed each one is prefixed with an "(i/n)" header.
func SplitReply(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}
	n := (len(runes) + limit - 1) / limit
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		end := min((i+1)*limit, len(runes))
		out = append(out, fmt.Sprintf("(%d/%d)\n\n%s", i+1, n, string(runes[i*limit:end])))
	}
	return out
}
