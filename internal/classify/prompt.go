package classify

import (
	"fmt"
	"strings"

	"github.com/growthtools/leadscout/internal/model"
)

// maxAboutChars caps the description included per company so a full batch
// stays comfortably inside the model's context window.
const maxAboutChars = 1000

// decision is one per-entity verdict in the classifier's JSON array.
type decision struct {
	CompanyName string  `json:"company_name"`
	Belongs     bool    `json:"belongs_to_sector"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

// BuildPrompt renders the batch classification prompt for one batch of
// leads against a sector name.
func BuildPrompt(leads []model.Lead, sector string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `Sen bir şirket sektör analiz uzmanısın. Aşağıdaki şirketlerin açıklamalarını inceleyip, her birinin "%s" sektörüne ait olup olmadığını belirle.

Her şirket için JSON formatında yanıt ver. Yanıt sadece geçerli bir JSON array olmalı, başka metin içermemeli.

Format:
[
  {
    "company_name": "şirket adı",
    "belongs_to_sector": true/false,
    "confidence": 0.0-1.0,
    "reason": "kısa açıklama (Türkçe)"
  },
  ...
]

Şirketler:
`, sector)

	for _, l := range leads {
		b.WriteString("\n---\n")
		fmt.Fprintf(&b, "Şirket: %s\n", l.CompanyName)
		if l.Website != "" {
			fmt.Fprintf(&b, "Website: %s\n", l.Website)
		}
		fmt.Fprintf(&b, "Açıklama: %s\n", truncate(l.About, maxAboutChars))
	}

	b.WriteString("\n\nYanıtını sadece JSON array formatında ver, başka açıklama yapma:")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// stripFences removes a surrounding markdown code fence from a model
// response, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	}
	if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	if strings.HasSuffix(s, "```") {
		s = s[:len(s)-len("```")]
	}
	return strings.TrimSpace(s)
}
