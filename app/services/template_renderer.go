package services

import (
	"strings"
)

// RenderTemplate substitutes {key} placeholders with values from data. Placeholders without
// a value are left in place so a missing variable is visible in the delivered message.
func RenderTemplate(template string, data map[string]string) string {
	if len(data) == 0 || !strings.Contains(template, "{") {
		return template
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Placeholders lists the distinct {key} names used by template, in order of appearance.
func Placeholders(template string) []string {
	var out []string
	seen := map[string]bool{}
	for {
		start := strings.IndexByte(template, '{')
		if start < 0 {
			return out
		}
		end := strings.IndexByte(template[start+1:], '}')
		if end < 0 {
			return out
		}
		name := template[start+1 : start+1+end]
		if name != "" && !strings.ContainsAny(name, "{ \n") && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
		template = template[start+1+end+1:]
	}
}
