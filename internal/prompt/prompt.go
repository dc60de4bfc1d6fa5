// Package prompt renders the texts sent to the inference provider: the
// generation request with its rubric-derived system prompt, and the judge
// request for a single rubric item.
package prompt

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"text/template"

	"github.com/ahrav/go-canvas/internal/domain"
)

// Rendered is a prompt ready to send. Hash identifies the exact rendered text
// so logs can correlate attempts that used the same prompt.
type Rendered struct {
	System string
	User   string
	Hash   string
}

func newRendered(system, user string) Rendered {
	h := sha256.New()
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(user))
	return Rendered{System: system, User: user, Hash: hex.EncodeToString(h.Sum(nil))}
}

var generationSystem = template.Must(template.New("generation").Parse(
	`You are writing a long-form document for the user. Respond with the document only, in Markdown.
{{- if .Criteria}}

The document will be graded against these requirements:
{{- range .Criteria}}
- {{if .Required}}[required] {{end}}{{.Text}}
{{- end}}

Satisfy every required item. Address the others where you can.
{{- end}}`))

type criterion struct {
	Text     string
	Required bool
}

// Generation compiles the user's prompt together with a system prompt listing
// the criterion-bearing rubric items.
func Generation(userPrompt string, rubric []domain.EvalItem) Rendered {
	data := struct{ Criteria []criterion }{}
	for _, item := range rubric {
		if item.HasCriteria() {
			data.Criteria = append(data.Criteria, criterion{Text: strings.TrimSpace(item.Criteria), Required: item.Required})
		}
	}
	var buf bytes.Buffer
	// The template and its data are fixed above; execution cannot fail.
	_ = generationSystem.Execute(&buf, data)
	return newRendered(buf.String(), userPrompt)
}

const judgeSystem = `You are a strict, impartial grader. You judge one document against one requirement and answer with a single JSON object and nothing else.`

var judgeUser = template.Must(template.New("judge").Parse(
	`Requirement:
<<<
{{.Criteria}}
>>>

Document:
<<<
{{.Candidate}}
>>>

{{if .PassFail -}}
Decide whether the document satisfies the requirement.
Respond as {"pass": true|false, "explanation": "<one or two sentences>"}.
{{- else -}}
Rate how well the document satisfies the requirement on a scale from 0 to 1, where 0 means not at all and 1 means fully.
Respond as {"score": <number between 0 and 1>, "explanation": "<one or two sentences>"}.
{{- end}}`))

// Judge renders the grading request for one rubric item against candidate.
func Judge(item domain.EvalItem, candidate string) Rendered {
	data := struct {
		Criteria  string
		Candidate string
		PassFail  bool
	}{
		Criteria:  strings.TrimSpace(item.Criteria),
		Candidate: candidate,
		PassFail:  item.Kind != domain.KindSubjective,
	}
	var buf bytes.Buffer
	_ = judgeUser.Execute(&buf, data)
	return newRendered(judgeSystem, buf.String())
}
