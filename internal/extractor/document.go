package extractor

import (
	"fmt"
	"strings"
)

// buildDocument 把实体/关系渲染成面向图谱摄取的自然语言文档
func buildDocument(filePath, language string, entities []Entity, relationships []Relationship) string {
	lines := []string{fmt.Sprintf("# Module: %s (%s)\n", filePath, language)}

	var imports []Relationship
	for _, r := range relationships {
		if r.Kind == "imports" {
			imports = append(imports, r)
		}
	}
	if len(imports) > 0 {
		lines = append(lines, "## Imports")
		for _, r := range imports {
			lines = append(lines, "- "+r.Target)
		}
		lines = append(lines, "")
	}

	for _, cls := range entities {
		if cls.Kind != "class" && cls.Kind != "interface" {
			continue
		}
		keyword := "Class"
		if cls.Kind == "interface" {
			keyword = "Interface"
		}
		lines = append(lines, fmt.Sprintf("## %s: %s", keyword, cls.Name))
		lines = append(lines, fmt.Sprintf("Defined at lines %d-%d.", cls.LineStart, cls.LineEnd))

		for _, r := range relationships {
			if r.Source == cls.Name && (r.Kind == "extends" || r.Kind == "implements") {
				lines = append(lines, fmt.Sprintf("%s %s.", capitalize(r.Kind), r.Target))
			}
		}

		if cls.Docstring != "" {
			lines = append(lines, fmt.Sprintf("Docstring: \"%s\"", cls.Docstring))
		}
		lines = append(lines, "")

		for _, m := range entities {
			if m.Kind != "method" || m.Parent != cls.Name {
				continue
			}
			lines = append(lines, "### Method: "+m.Name)
			if m.Signature != "" {
				lines = append(lines, "Signature: "+m.Signature)
			}
			lines = append(lines, fmt.Sprintf("Defined at lines %d-%d.", m.LineStart, m.LineEnd))
			if m.Docstring != "" {
				lines = append(lines, fmt.Sprintf("Docstring: \"%s\"", m.Docstring))
			}
			lines = append(lines, "")
		}
	}

	var functions []Entity
	for _, e := range entities {
		if e.Kind == "function" {
			functions = append(functions, e)
		}
	}
	if len(functions) > 0 {
		lines = append(lines, "## Functions")
		for _, f := range functions {
			lines = append(lines, "### Function: "+f.Name)
			if f.Signature != "" {
				lines = append(lines, "Signature: "+f.Signature)
			}
			lines = append(lines, fmt.Sprintf("Defined at lines %d-%d.", f.LineStart, f.LineEnd))
			if f.Docstring != "" {
				lines = append(lines, fmt.Sprintf("Docstring: \"%s\"", f.Docstring))
			}
			lines = append(lines, "")
		}
	}

	return strings.Join(lines, "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
