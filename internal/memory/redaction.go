package memory

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// ApplyRedaction applies regex-driven masking/removal/replacement
// of sensitive spans, grounded on
// original_source/bartholomew/kernel/redaction_engine.py. Invalid regex,
// an unknown strategy, or a missing pattern all degrade to returning
// text unchanged (never crash ingestion).
func ApplyRedaction(text string, evaluated EvaluatedMetadata) string {
	pattern := evaluated.Content
	if pattern == "" {
		return text
	}

	strategy := evaluated.RedactStrategy
	if strategy == "" {
		strategy = "mask"
	}

	re, err := compileCaseInsensitive(pattern)
	if err != nil {
		log.Error().Err(err).Str("pattern", pattern).Msg("invalid redaction regex pattern")
		return text
	}

	switch {
	case strategy == "mask":
		return re.ReplaceAllString(text, "****")
	case strategy == "remove":
		return re.ReplaceAllString(text, "")
	case strings.HasPrefix(strategy, "replace:"):
		replacement := strings.TrimPrefix(strategy, "replace:")
		return re.ReplaceAllString(text, replacement)
	default:
		log.Warn().Str("strategy", strategy).Msg("unknown redaction strategy, returning original text")
		return text
	}
}

func compileCaseInsensitive(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}
