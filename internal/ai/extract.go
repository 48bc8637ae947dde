package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	validate       = validator.New()
)

// ErrUnparsable is returned when a model reply is not the expected JSON.
var ErrUnparsable = errors.New("unparsable model output")

// normalizer tidies decoded output before validation.
type normalizer interface {
	normalize()
}

// decodeJSON finds a JSON object in a model reply, which may be wrapped in
// a code fence or surrounded by prose, decodes it into dst and validates it.
func decodeJSON(text string, dst any) error {
	var candidates []string
	if m := codeFenceRegex.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}
	candidates = append(candidates, strings.TrimSpace(text))

	var lastErr error
	for _, c := range candidates {
		if err := json.Unmarshal([]byte(c), dst); err != nil {
			lastErr = err
			continue
		}
		if n, ok := dst.(normalizer); ok {
			n.normalize()
		}
		if err := validate.Struct(dst); err != nil {
			return fmt.Errorf("%w: %v", ErrUnparsable, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnparsable, lastErr)
}
