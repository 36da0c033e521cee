package jsfunc

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/hackare/hackare/internal/domain/chat"
)

var (
	funcDeclRe  = regexp.MustCompile(`(?m)^\s*(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\(([^)]*)\)`)
	arrowDeclRe = regexp.MustCompile(`(?m)^\s*(?:const|let|var)\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:async\s+)?\(([^)]*)\)\s*=>`)
	jsdocRe     = regexp.MustCompile(`(?s)/\*\*(.*?)\*/`)
	paramTagRe  = regexp.MustCompile(`@param\s+\{([^}]+)\}\s+(\[?[A-Za-z_$][A-Za-z0-9_$]*\]?)\s*-?\s*(.*)`)
	returnTagRe = regexp.MustCompile(`@returns?\s+(?:\{[^}]*\}\s*)?(.*)`)
)

// Parse validates sourceText under the scripting runtime and extracts
// the first function it declares: name, JSDoc parameter metadata,
// return description, and callable/tool flags. Unmarked functions
// default to callable.
func Parse(sourceText string) (*Function, error) {
	fns, err := ParseAll(sourceText)
	if err != nil {
		return nil, err
	}
	return fns[0], nil
}

// ParseAll extracts every function sourceText declares. Each record
// carries the full source so sibling helpers stay in scope at call
// time.
func ParseAll(sourceText string) ([]*Function, error) {
	if _, err := goja.Compile("function.js", sourceText, false); err != nil {
		return nil, chat.WrapError(chat.KindParseFailed, "source does not parse", err)
	}

	decls := findDeclarations(sourceText)
	if len(decls) == 0 {
		return nil, chat.NewError(chat.KindParseFailed, "no function declaration found")
	}

	fns := make([]*Function, 0, len(decls))
	for _, d := range decls {
		if !ValidName(d.name) {
			return nil, chat.NewError(chat.KindParseFailed, fmt.Sprintf("invalid function name %q", d.name))
		}

		fn := &Function{
			ID:         uuid.NewString(),
			Name:       d.name,
			SourceText: sourceText,
			Callable:   true,
		}

		// Declared parameters, in order. JSDoc annotations refine these.
		byName := make(map[string]*Parameter)
		for _, p := range splitParams(d.params) {
			fn.Parameters = append(fn.Parameters, Parameter{Name: p, Type: "string", Required: true})
			byName[p] = &fn.Parameters[len(fn.Parameters)-1]
		}

		if doc := docBlockBefore(sourceText, d.start); doc != "" {
			applyDoc(fn, byName, doc)
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

type declaration struct {
	name   string
	params string
	start  int
}

// findDeclarations locates every function and arrow declaration in
// source order.
func findDeclarations(source string) []declaration {
	var decls []declaration
	for _, re := range []*regexp.Regexp{funcDeclRe, arrowDeclRe} {
		for _, loc := range re.FindAllStringSubmatchIndex(source, -1) {
			decls = append(decls, declaration{
				name:   source[loc[2]:loc[3]],
				params: source[loc[4]:loc[5]],
				start:  loc[0],
			})
		}
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].start < decls[j].start })
	return decls
}

func splitParams(list string) []string {
	var out []string
	for _, raw := range strings.Split(list, ",") {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		// Strip default values and rest markers.
		if idx := strings.Index(p, "="); idx >= 0 {
			p = strings.TrimSpace(p[:idx])
		}
		p = strings.TrimPrefix(p, "...")
		if ValidName(p) {
			out = append(out, p)
		}
	}
	return out
}

// docBlockBefore returns the last /** */ block ending before offset.
func docBlockBefore(source string, offset int) string {
	if offset < 0 {
		return ""
	}
	var last string
	for _, loc := range jsdocRe.FindAllStringSubmatchIndex(source, -1) {
		if loc[1] <= offset {
			last = source[loc[2]:loc[3]]
		}
	}
	return last
}

func applyDoc(fn *Function, byName map[string]*Parameter, doc string) {
	var descLines []string
	for _, rawLine := range strings.Split(doc, "\n") {
		line := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rawLine), "*"))
		line = strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, "@param"):
			m := paramTagRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			pname := m[2]
			optional := strings.HasPrefix(pname, "[")
			pname = strings.Trim(pname, "[]")
			p, ok := byName[pname]
			if !ok {
				continue
			}
			p.Type = jsType(strings.ToLower(strings.TrimSpace(m[1])))
			p.Required = !optional
			p.Description = strings.TrimSpace(m[3])
		case strings.HasPrefix(line, "@returns"), strings.HasPrefix(line, "@return"):
			if m := returnTagRe.FindStringSubmatch(line); m != nil {
				fn.Returns = strings.TrimSpace(m[1])
			}
		case strings.HasPrefix(line, "@callable"), strings.HasPrefix(line, "@tool"):
			fn.Callable = true
		case strings.HasPrefix(line, "@internal"):
			fn.Callable = false
		case strings.HasPrefix(line, "@"):
			// Unknown tag, ignore.
		default:
			if line != "" {
				descLines = append(descLines, line)
			}
		}
	}
	fn.Description = strings.Join(descLines, " ")
}
