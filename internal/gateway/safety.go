package gateway

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const maxIdentifierLen = 128

// ValidateIdentifier accepts plain unquoted SQL identifiers only.
func ValidateIdentifier(name string) error {
	if name == "" {
		return duck.NewError(duck.KindPermission, nil, "table name is required")
	}
	if len(name) > maxIdentifierLen || !identifierRe.MatchString(name) {
		return duck.NewError(duck.KindPermission, nil,
			"table name %q is not a safe identifier: use letters, digits and underscores, starting with a letter or underscore", name)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (g *Gateway) qualified(table string) string {
	return quoteIdent(g.cfg.Schema) + "." + quoteIdent(table)
}

// resolvePath maps a caller-supplied path to an absolute path inside the allowed
// directory. Relative paths are taken relative to the allowed directory. Symlinks
// are resolved for the longest existing prefix so a link cannot point outside.
func (g *Gateway) resolvePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", duck.NewError(duck.KindPermission, nil, "file path is required")
	}
	if strings.ContainsRune(p, 0) {
		return "", duck.NewError(duck.KindPermission, nil, "file path contains a NUL byte")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(g.allowedDir, p)
	}
	p = filepath.Clean(p)

	resolved, err := evalExistingPrefix(p)
	if err != nil {
		return "", duck.NewError(duck.KindPermission, err, "failed to resolve file path %s: %v", p, err)
	}

	rel, err := filepath.Rel(g.allowedDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", duck.NewError(duck.KindPermission, nil, "file path %s is outside the allowed directory %s", p, g.allowedDir)
	}
	return resolved, nil
}

func evalExistingPrefix(p string) (string, error) {
	var missing []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			parts := append([]string{resolved}, missing...)
			return filepath.Join(parts...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		missing = append([]string{filepath.Base(cur)}, missing...)
		cur = parent
	}
}

func validateDelimiter(d string) (string, error) {
	if d == "" {
		return ",", nil
	}
	r, size := utf8.DecodeRuneInString(d)
	if size != len(d) || r == utf8.RuneError {
		return "", duck.NewError(duck.KindParameterBinding, nil, "delimiter must be a single character, got %q", d)
	}
	switch r {
	case '"', '\'', '\n', '\r':
		return "", duck.NewError(duck.KindParameterBinding, nil, "delimiter %q is not allowed", d)
	}
	return d, nil
}
