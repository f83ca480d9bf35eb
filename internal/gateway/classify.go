package gateway

import (
	"regexp"
	"strings"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
)

// StatementKind routes a statement to the read or the write path.
type StatementKind int

const (
	StatementRead StatementKind = iota
	StatementWrite
	// StatementTransaction statements manage transactions themselves and are refused
	// on both paths, since the gateway owns transaction boundaries.
	StatementTransaction
	// StatementSession statements change state local to one connection: temporary
	// relations, session settings and the default catalog. Connections are pooled,
	// so they are refused too.
	StatementSession
)

func (k StatementKind) String() string {
	switch k {
	case StatementWrite:
		return "write"
	case StatementTransaction:
		return "transaction"
	case StatementSession:
		return "session"
	}
	return "read"
}

var (
	mutatingKeywords = map[string]struct{}{
		"INSERT": {}, "UPDATE": {}, "DELETE": {}, "CREATE": {}, "DROP": {}, "ALTER": {}, "TRUNCATE": {},
		"COPY": {}, "ATTACH": {}, "DETACH": {}, "INSTALL": {}, "LOAD": {}, "IMPORT": {}, "EXPORT": {},
		"CHECKPOINT": {}, "FORCE": {}, "VACUUM": {}, "ANALYZE": {}, "SET": {}, "RESET": {}, "MERGE": {},
		"REPLACE": {}, "UPSERT": {}, "GRANT": {}, "REVOKE": {}, "COMMENT": {}, "CALL": {},
	}
	transactionKeywords = map[string]struct{}{
		"BEGIN": {}, "START": {}, "COMMIT": {}, "END": {}, "ROLLBACK": {}, "ABORT": {}, "SAVEPOINT": {}, "RELEASE": {},
	}
	// Keywords that turn a WITH query into a data-modifying one.
	cteMutatingRe = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE)\b`)
	wordRe        = regexp.MustCompile(`^[A-Za-z_]+`)
)

// ClassifyStatement reports whether text is a read-only query or a mutating
// statement. Comments and quoted text are ignored. More than one statement in a
// single call is refused with a StatementKindError.
func ClassifyStatement(text string) (StatementKind, error) {
	segments := splitStatements(stripLiterals(text))
	switch len(segments) {
	case 0:
		return StatementRead, duck.NewError(duck.KindSyntax, nil, "statement is empty")
	case 1:
	default:
		return StatementRead, duck.NewError(duck.KindStatementKind, nil, "only one statement per call is accepted, got %d", len(segments))
	}
	return classifySegment(segments[0]), nil
}

func classifySegment(s string) StatementKind {
	s = strings.TrimLeft(s, "( \t\r\n")
	first := strings.ToUpper(wordRe.FindString(s))
	rest := strings.TrimSpace(s[len(first):])

	if _, ok := transactionKeywords[first]; ok {
		return StatementTransaction
	}
	if isSessionScoped(first, rest) {
		return StatementSession
	}
	if _, ok := mutatingKeywords[first]; ok {
		return StatementWrite
	}
	switch first {
	case "WITH":
		if cteMutatingRe.MatchString(rest) {
			return StatementWrite
		}
	case "EXPLAIN":
		// EXPLAIN ANALYZE executes its statement.
		next := strings.ToUpper(wordRe.FindString(rest))
		if next == "ANALYZE" || next == "ANALYSE" {
			rest = strings.TrimSpace(rest[len(next):])
		}
		if rest != "" {
			return classifySegment(rest)
		}
	case "PRAGMA":
		if strings.Contains(rest, "=") {
			return StatementWrite
		}
	}
	return StatementRead
}

func errSessionStatement(sql string) error {
	return duck.NewError(duck.KindStatementKind, nil,
		"session-scoped statements are not accepted; they would apply to one pooled connection only. Use SET GLOBAL or a regular table instead").WithStatement(sql)
}

func isSessionScoped(first, rest string) bool {
	next := strings.ToUpper(wordRe.FindString(rest))
	switch first {
	case "USE":
		return true
	case "SET", "RESET":
		// Only SET GLOBAL reaches every connection.
		return next != "GLOBAL"
	case "CREATE":
		if next == "OR" {
			rest = strings.TrimSpace(rest[len(next):])
			if w := strings.ToUpper(wordRe.FindString(rest)); w == "REPLACE" {
				rest = strings.TrimSpace(rest[len(w):])
			}
			next = strings.ToUpper(wordRe.FindString(rest))
		}
		return next == "TEMP" || next == "TEMPORARY"
	}
	return false
}

// stripLiterals replaces comments with a space and the contents of quoted strings
// and identifiers with nothing, keeping the quotes so token boundaries survive.
func stripLiterals(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '-' && i+1 < len(text) && text[i+1] == '-':
			for i < len(text) && text[i] != '\n' {
				i++
			}
			b.WriteByte(' ')
		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			i += 2
			for i < len(text) && !(text[i] == '*' && i+1 < len(text) && text[i+1] == '/') {
				i++
			}
			i++
			b.WriteByte(' ')
		case c == '\'' || c == '"':
			b.WriteByte(c)
			i++
			for i < len(text) {
				if text[i] == c {
					// Doubled quote is an escaped quote.
					if i+1 < len(text) && text[i+1] == c {
						i += 2
						continue
					}
					break
				}
				i++
			}
			b.WriteByte(c)
		case c == '$' && i+1 < len(text) && text[i+1] == '$':
			b.WriteString("''")
			i += 2
			for i < len(text) && !(text[i] == '$' && i+1 < len(text) && text[i+1] == '$') {
				i++
			}
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// trimStatementTail drops trailing whitespace, semicolons and comments so the
// statement can be embedded in a larger one.
func trimStatementTail(text string) string {
	end := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '-' && i+1 < len(text) && text[i+1] == '-':
			for i < len(text) && text[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			i += 2
			for i < len(text) && !(text[i] == '*' && i+1 < len(text) && text[i+1] == '/') {
				i++
			}
			i++
		case c == '\'' || c == '"':
			i++
			for i < len(text) {
				if text[i] == c {
					if i+1 < len(text) && text[i+1] == c {
						i += 2
						continue
					}
					break
				}
				i++
			}
			end = min(i+1, len(text))
		case c == '$' && i+1 < len(text) && text[i+1] == '$':
			i += 2
			for i < len(text) && !(text[i] == '$' && i+1 < len(text) && text[i+1] == '$') {
				i++
			}
			i++
			end = min(i+1, len(text))
		case c == ';' || c == ' ' || c == '\t' || c == '\r' || c == '\n':
		default:
			end = i + 1
		}
	}
	return text[:end]
}

func splitStatements(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
