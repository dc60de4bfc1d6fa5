package judging

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-canvas/internal/domain"
	llmerrors "github.com/ahrav/go-canvas/internal/llm/errors"
)

// defaultExplanation is stored when a judge omits its explanation.
const defaultExplanation = "No explanation provided by the judge."

var validate = validator.New(validator.WithRequiredStructEnabled())

// passFailVerdict is the structured reply for pass_fail items.
type passFailVerdict struct {
	Pass        *bool  `json:"pass" validate:"required"`
	Explanation string `json:"explanation"`
}

// scoreVerdict is the structured reply for subjective items.
type scoreVerdict struct {
	Score       *float64 `json:"score" validate:"required,gte=0,lte=1"`
	Explanation string   `json:"explanation"`
}

// verdict is a parsed judge reply reduced to the stored score.
type verdict struct {
	Score       float64
	Explanation string
	Repaired    bool
}

// parseVerdict decodes a judge reply for kind. A reply that does not parse or
// validate gets one repair pass; a reply still invalid afterwards wraps
// ErrJSONValidation.
func parseVerdict(kind domain.EvalKind, raw string) (verdict, error) {
	v, err := decodeVerdict(kind, raw)
	if err == nil {
		return v, nil
	}

	repaired := repairJSON(raw)
	if repaired == raw {
		return verdict{}, fmt.Errorf("%w: %w", llmerrors.ErrJSONValidation, err)
	}
	v, rerr := decodeVerdict(kind, repaired)
	if rerr != nil {
		return verdict{}, fmt.Errorf("%w: after repair: %w", llmerrors.ErrJSONValidation, rerr)
	}
	v.Repaired = true
	return v, nil
}

func decodeVerdict(kind domain.EvalKind, raw string) (verdict, error) {
	if kind == domain.KindSubjective {
		var sv scoreVerdict
		if err := json.Unmarshal([]byte(raw), &sv); err != nil {
			return verdict{}, err
		}
		if err := validate.Struct(sv); err != nil {
			return verdict{}, err
		}
		return verdict{Score: *sv.Score, Explanation: explanationOrDefault(sv.Explanation)}, nil
	}

	var pv passFailVerdict
	if err := json.Unmarshal([]byte(raw), &pv); err != nil {
		return verdict{}, err
	}
	if err := validate.Struct(pv); err != nil {
		return verdict{}, err
	}
	score := 0.0
	if *pv.Pass {
		score = 1
	}
	return verdict{Score: score, Explanation: explanationOrDefault(pv.Explanation)}, nil
}

func explanationOrDefault(s string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return defaultExplanation
}

var (
	unquotedKey   = regexp.MustCompile(`([{,])\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	percentScore  = regexp.MustCompile(`("score"\s*:\s*)([0-9]+(?:\.[0-9]+)?)\s*%`)
)

// repairJSON applies a conservative one-shot cleanup for common model output
// problems: code fences, prose around the object, trailing commas, unquoted
// keys, single quotes, and percentage scores. It returns raw unchanged when no
// repair applies.
func repairJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}

	s = trailingComma.ReplaceAllString(s, "$1")
	s = unquotedKey.ReplaceAllString(s, `$1"$2":`)
	if !strings.Contains(s, `"`) && strings.Contains(s, `'`) {
		s = strings.ReplaceAll(s, `'`, `"`)
	}
	s = percentScore.ReplaceAllStringFunc(s, func(m string) string {
		parts := percentScore.FindStringSubmatch(m)
		var pct float64
		if _, err := fmt.Sscanf(parts[2], "%g", &pct); err != nil {
			return m
		}
		return fmt.Sprintf("%s%g", parts[1], pct/100)
	})

	if s == strings.TrimSpace(raw) {
		return raw
	}
	return s
}

// isVerdictError reports whether err came from an unusable judge reply.
func isVerdictError(err error) bool {
	return errors.Is(err, llmerrors.ErrJSONValidation)
}
