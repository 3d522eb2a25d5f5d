package config

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/quillstone/dbguard/pkg/dberrors"
)

// ${NAME} requires the variable; ${NAME:-default} substitutes the default
// when it is absent.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default} placeholders from the
// process environment. Every missing required variable is reported, not just
// the first.
func ExpandEnv(content string) (string, error) {
	missing := map[string]bool{}

	expanded := placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		name := groups[1]
		hasDefault := groups[2] != ""

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return groups[3]
		}
		missing[name] = true
		return match
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", dberrors.New(dberrors.ErrorTypeConfig,
			"required environment variables not set: "+strings.Join(names, ", ")).
			WithDetail("missing_variables", names)
	}
	return expanded, nil
}
