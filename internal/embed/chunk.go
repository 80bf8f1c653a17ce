package embed

import "strings"

// SplitTokens splits text into chunks of at most chunkTokens
// whitespace tokens, carrying overlap tokens between consecutive
// chunks. Text at or under the bound comes back as a single chunk,
// unmodified.
func SplitTokens(text string, chunkTokens, overlap int) []string {
	if chunkTokens <= 0 {
		return []string{text}
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkTokens {
		overlap = chunkTokens - 1
	}

	words := strings.Fields(text)
	if len(words) <= chunkTokens {
		return []string{text}
	}

	step := chunkTokens - overlap
	chunks := make([]string, 0, (len(words)+step-1)/step)
	for start := 0; start < len(words); start += step {
		end := start + chunkTokens
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
