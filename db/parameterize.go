package db

import (
	"fmt"
	"io/fs"
	"regexp"
	"strings"
)

// ParameterizedSQLTemplate holds an sql file with its declared parameters replaced by
// sqlx named parameters.
type ParameterizedSQLTemplate struct {
	Body       []byte
	Parameters []string
}

// String provides a printable representation.
func (p ParameterizedSQLTemplate) String() string {
	return fmt.Sprintf("params: [%s]\nbody:\n%s", strings.Join(p.Parameters, ", "), p.Body)
}

// regexpParam matches declarations such as
//
//	,'analyst@example.com' AS UserName    /* @param */
//
// capturing the example value, which is replaced, and the parameter name. The example
// value lets each sql file run as-is on the sqlite command line.
var (
	paramAtoms = []string{
		`(?:[a-zA-Z_]\w*\([^\)]*\))`, // any_func(...)
		`(?:'[^']*')`,                // 'a string' or ''
		`(?:-?\d*\.?\d+)`,            // 123 or 1.23 or -5
		`(?:null)`,                   // null
	}

	regexpParam = regexp.MustCompile(fmt.Sprintf(
		`(?P<value>%s)(?P<as>\s+AS\s+)(?P<param>[A-Za-z0-9_]+)(?P<end>\s+/\* @param \*/)`,
		strings.Join(paramAtoms, "|"),
	))
)

// parameterize replaces each `/* @param */` declaration in tpl with an sqlx named
// parameter, so that
//
//	,'x' AS UserName    /* @param */
//
// becomes
//
//	,:UserName AS UserName
//
// Templates without declarations are returned unchanged with no parameters.
func parameterize(tpl []byte) *ParameterizedSQLTemplate {
	matches := regexpParam.FindAllSubmatch(tpl, -1)

	pst := &ParameterizedSQLTemplate{
		Parameters: make([]string, len(matches)),
	}
	paramIdx := regexpParam.SubexpIndex("param")
	for i := range matches {
		pst.Parameters[i] = string(matches[i][paramIdx])
	}
	pst.Body = regexpParam.ReplaceAll(tpl, []byte(`:${param}${as}${param}`))
	return pst
}

// ParameterizeFile reads an sql file from fileFS and parameterizes it.
func ParameterizeFile(fileFS fs.FS, filePath string) (*ParameterizedSQLTemplate, error) {
	fileBytes, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("file read error: %w", err)
	}
	return parameterize(fileBytes), nil
}
