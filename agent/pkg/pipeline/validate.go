package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// deniedPatterns is a best-effort screen for constructs that have no business in
// a table expression. It is not a sandbox: the Starlark evaluator, which binds
// nothing but the table mapping, is the actual boundary.
var deniedPatterns = []struct {
	token string
	re    *regexp.Regexp
}{
	{"import", regexp.MustCompile(`\bimport\b`)},
	{"load(", regexp.MustCompile(`\bload\s*\(`)},
	{"getattr", regexp.MustCompile(`\bgetattr\b`)},
	{"eval", regexp.MustCompile(`\beval\b`)},
	{"exec", regexp.MustCompile(`\bexec\b`)},
	{"open(", regexp.MustCompile(`\bopen\s*\(`)},
	{"compile", regexp.MustCompile(`\bcompile\b`)},
	{"globals", regexp.MustCompile(`\bglobals\b`)},
	{"locals", regexp.MustCompile(`\blocals\b`)},
	{"vars(", regexp.MustCompile(`\bvars\s*\(`)},
	{"builtins", regexp.MustCompile(`\bbuiltins\b`)},
}

// ValidateExpression rejects expressions containing a denied token. The
// expression itself is never modified.
func ValidateExpression(expr string) error {
	if strings.Contains(expr, "__") {
		return fmt.Errorf("unsafe code detected: %q is not allowed", "__")
	}
	for _, p := range deniedPatterns {
		if p.re.MatchString(expr) {
			return fmt.Errorf("unsafe code detected: %q is not allowed", p.token)
		}
	}
	return nil
}
