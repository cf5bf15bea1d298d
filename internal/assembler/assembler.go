package assembler

import (
	"fmt"
	"strings"

	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/pkg/utils"
)

// charsPerToken is the estimate used for context budgeting. It does
// not need to be exact, the generation service enforces its own hard
// limit; it only needs to be stable.
const charsPerToken = 4

// snippetLen bounds the citation snippet shown back to the user.
const snippetLen = 200

// Assembler packs retrieved chunks into a bounded prompt context,
// tracking per-chunk provenance.
type Assembler struct {
	maxTokens int
}

func New(maxTokens int) *Assembler {
	return &Assembler{maxTokens: maxTokens}
}

// EstimateTokens is the token-count estimate used for budgeting.
func EstimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Assemble concatenates chunk texts in descending-score order, each
// tagged with a source marker, stopping before the budget is exceeded.
// The first chunk is always included, truncated to fit if it alone is
// over budget. Empty input yields the no-context sentinel.
func (a *Assembler) Assemble(results []rag.Scored) rag.Context {
	if len(results) == 0 {
		return rag.Context{}
	}

	var b strings.Builder
	var citations []rag.Citation
	used := 0
	truncated := false

	for i, r := range results {
		header := fmt.Sprintf("[source %d: %s]\n", i+1, r.Chunk.DocName)
		text := r.Chunk.Text
		cost := EstimateTokens(header) + EstimateTokens(text)

		if i == 0 && cost > a.maxTokens {
			// Never return an empty context when retrieval found
			// something: cut the best chunk down to the budget.
			budgetChars := (a.maxTokens - EstimateTokens(header)) * charsPerToken
			if budgetChars < 0 {
				budgetChars = 0
			}
			if budgetChars < len(text) {
				text = utils.TruncateRunes(text, budgetChars)
				truncated = true
			}
			cost = EstimateTokens(header) + EstimateTokens(text)
		} else if used+cost > a.maxTokens {
			break
		}

		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(header)
		b.WriteString(text)
		b.WriteString("\n")
		used += cost

		citations = append(citations, rag.Citation{
			Document: r.Chunk.DocName,
			Ordinal:  r.Chunk.Ordinal,
			Snippet:  snippet(r.Chunk.Text),
			Score:    r.Score,
		})
	}

	return rag.Context{
		Text:      b.String(),
		Citations: citations,
		Tokens:    used,
		Truncated: truncated,
	}
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= snippetLen {
		return text
	}
	return utils.TruncateRunes(text, snippetLen) + "..."
}
