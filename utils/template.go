package utils

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// RenderTemplate substitutes every {{name}} placeholder with the matching
// variable. Lookup is case-sensitive; unmatched placeholders pass through
// verbatim so a missing variable never breaks a delivery.
func RenderTemplate(content string, variables map[string]string) string {
	if content == "" || len(variables) == 0 {
		return content
	}

	return placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := variables[name]; ok {
			return value
		}
		logrus.WithField("variable", name).Warn("template variable not found, keeping placeholder")
		return match
	})
}
