package extractor

import (
	"context"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	domainErrors "github.com/memflow/memflow/pkg/errors"
)

// Entity 源码中的结构化实体
type Entity struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"` // module / class / interface / function / method
	FilePath  string `json:"file_path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Signature string `json:"signature,omitempty"`
	Docstring string `json:"docstring,omitempty"`
	Parent    string `json:"parent,omitempty"`
}

// Relationship 实体间关系
type Relationship struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"` // contains / extends / implements / imports
}

// ParseResult 单个文件的解析产物
type ParseResult struct {
	FilePath      string         `json:"file_path"`
	Language      string         `json:"language"`
	Document      string         `json:"document"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// classTypes 各语言中算作类/接口的节点类型
var classTypes = map[string][]string{
	"python":     {"class_definition"},
	"javascript": {"class_declaration"},
	"typescript": {"class_declaration", "interface_declaration"},
	"go":         {"type_declaration"},
	"rust":       {"struct_item", "enum_item", "trait_item", "impl_item"},
	"java":       {"class_declaration", "interface_declaration", "enum_declaration"},
	"c":          {"struct_specifier"},
	"cpp":        {"class_specifier", "struct_specifier"},
}

// funcTypes 各语言中算作函数/方法的节点类型
var funcTypes = map[string][]string{
	"python":     {"function_definition"},
	"javascript": {"function_declaration", "arrow_function", "method_definition"},
	"typescript": {"function_declaration", "arrow_function", "method_definition"},
	"go":         {"function_declaration", "method_declaration"},
	"rust":       {"function_item"},
	"java":       {"method_declaration", "constructor_declaration"},
	"c":          {"function_definition"},
	"cpp":        {"function_definition"},
}

// importTypes 各语言中的导入节点类型
var importTypes = map[string][]string{
	"python":     {"import_statement", "import_from_statement"},
	"javascript": {"import_statement"},
	"typescript": {"import_statement"},
	"go":         {"import_declaration"},
	"rust":       {"use_declaration"},
	"java":       {"import_declaration"},
	"c":          {"preproc_include"},
	"cpp":        {"preproc_include"},
}

// bodyTypes 签名截断位置: 函数体/类体节点
var bodyTypes = map[string]bool{
	"block":                  true,
	"compound_statement":     true,
	"statement_block":        true,
	"class_body":             true,
	"field_declaration_list": true,
	"declaration_list":       true,
}

// ParseFile 解析单个源文件, 产出实体/关系和自然语言文档
func ParseFile(ctx context.Context, filePath, content, language string) (*ParseResult, error) {
	lang, ok := languages[language]
	if !ok {
		return nil, domainErrors.NewInvalidInputError("unsupported language: " + language)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, []byte(content))
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to parse source: " + err.Error())
	}
	defer tree.Close()

	moduleName := path.Base(filePath)
	ext := &extraction{
		source:   []byte(content),
		filePath: filePath,
		language: language,
		entities: []Entity{{
			Name:      moduleName,
			Kind:      "module",
			FilePath:  filePath,
			LineStart: 1,
			LineEnd:   strings.Count(content, "\n") + 1,
		}},
	}
	ext.walk(tree.RootNode(), moduleName)

	return &ParseResult{
		FilePath:      filePath,
		Language:      language,
		Document:      buildDocument(filePath, language, ext.entities, ext.relationships),
		Entities:      ext.entities,
		Relationships: ext.relationships,
	}, nil
}

// extraction 单文件解析状态
type extraction struct {
	source        []byte
	filePath      string
	language      string
	entities      []Entity
	relationships []Relationship
}

func (e *extraction) walk(node *sitter.Node, parentName string) {
	classSet := typeSet(classTypes[e.language])
	funcSet := typeSet(funcTypes[e.language])
	importSet := typeSet(importTypes[e.language])

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		ntype := child.Type()

		switch {
		case classSet[ntype]:
			name := nodeName(child, e.source)
			if name == "" {
				continue
			}
			kind := "class"
			if strings.Contains(ntype, "interface") {
				kind = "interface"
			}
			e.entities = append(e.entities, Entity{
				Name:      name,
				Kind:      kind,
				FilePath:  e.filePath,
				LineStart: int(child.StartPoint().Row) + 1,
				LineEnd:   int(child.EndPoint().Row) + 1,
				Docstring: e.docstring(child),
				Parent:    parentName,
			})
			e.relationships = append(e.relationships, Relationship{
				Source: parentName, Target: name, Kind: "contains",
			})
			e.inheritance(child, name)
			// 递归进类体提取方法
			e.walk(child, name)

		case funcSet[ntype]:
			name := nodeName(child, e.source)
			if name == "" {
				continue
			}
			isMethod := e.isClassName(parentName)
			kind := "function"
			entityName := name
			if isMethod {
				kind = "method"
				entityName = parentName + "." + name
			}
			e.entities = append(e.entities, Entity{
				Name:      entityName,
				Kind:      kind,
				FilePath:  e.filePath,
				LineStart: int(child.StartPoint().Row) + 1,
				LineEnd:   int(child.EndPoint().Row) + 1,
				Signature: e.signature(child),
				Docstring: e.docstring(child),
				Parent:    parentName,
			})
			e.relationships = append(e.relationships, Relationship{
				Source: parentName, Target: name, Kind: "contains",
			})

		case importSet[ntype]:
			text := strings.TrimSpace(child.Content(e.source))
			if target := parseImportTarget(text, e.language); target != "" {
				e.relationships = append(e.relationships, Relationship{
					Source: parentName, Target: target, Kind: "imports",
				})
			}

		default:
			// 递归进包装节点 (如python的decorated_definition)
			if child.ChildCount() > 0 {
				e.walk(child, parentName)
			}
		}
	}
}

// isClassName 已提取的实体中是否有同名类/接口
func (e *extraction) isClassName(name string) bool {
	if name == "" {
		return false
	}
	for _, entity := range e.entities {
		if (entity.Kind == "class" || entity.Kind == "interface") && entity.Name == name {
			return true
		}
	}
	return false
}

// signature 取节点开头到函数体之前的文本, 找不到函数体就取首行
func (e *extraction) signature(node *sitter.Node) string {
	start := node.StartByte()
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if bodyTypes[child.Type()] {
			return strings.TrimSpace(string(e.source[start:child.StartByte()]))
		}
	}
	text := node.Content(e.source)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// docstring 提取文档注释, 截断到200字符
// python取函数体第一条字符串, 其余语言取紧邻的前置注释
func (e *extraction) docstring(node *sitter.Node) string {
	if e.language == "python" {
		return truncateDoc(pythonDocstring(node, e.source))
	}

	prev := node.PrevSibling()
	if prev == nil {
		return ""
	}
	switch prev.Type() {
	case "comment", "block_comment", "line_comment":
		return truncateDoc(strings.Trim(prev.Content(e.source), "/* \n"))
	}
	return ""
}

func pythonDocstring(node *sitter.Node, source []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "block" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			stmt := child.Child(j)
			if stmt.Type() != "expression_statement" {
				continue
			}
			for k := 0; k < int(stmt.ChildCount()); k++ {
				expr := stmt.Child(k)
				if expr.Type() == "string" {
					return strings.Trim(expr.Content(source), "\"'")
				}
			}
			return ""
		}
		return ""
	}
	return ""
}

// inheritance 提取继承/实现关系
func (e *extraction) inheritance(node *sitter.Node, className string) {
	switch e.language {
	case "python":
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.Type() != "argument_list" {
				continue
			}
			for j := 0; j < int(child.ChildCount()); j++ {
				arg := child.Child(j)
				if arg.Type() == "identifier" {
					e.relationships = append(e.relationships, Relationship{
						Source: className, Target: arg.Content(e.source), Kind: "extends",
					})
				}
			}
		}
	case "java", "typescript", "javascript":
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			switch child.Type() {
			case "superclass":
				if name := nodeName(child, e.source); name != "" {
					e.relationships = append(e.relationships, Relationship{
						Source: className, Target: name, Kind: "extends",
					})
				}
			case "super_interfaces":
				for j := 0; j < int(child.ChildCount()); j++ {
					iface := child.Child(j)
					switch iface.Type() {
					case "type_identifier", "identifier":
						e.relationships = append(e.relationships, Relationship{
							Source: className, Target: iface.Content(e.source), Kind: "implements",
						})
					}
				}
			}
		}
	}
}

// nodeName 取节点的标识符名称
func nodeName(node *sitter.Node, source []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier", "type_identifier", "name", "field_identifier":
			return child.Content(source)
		case "type_spec":
			if name := nodeName(child, source); name != "" {
				return name
			}
		}
	}
	return ""
}

// parseImportTarget 从导入语句文本解析目标模块名
func parseImportTarget(text, language string) string {
	switch language {
	case "python":
		if strings.HasPrefix(text, "from ") {
			parts := strings.Fields(text)
			if len(parts) > 1 {
				return parts[1]
			}
			return ""
		}
		if strings.HasPrefix(text, "import ") {
			rest := strings.TrimPrefix(text, "import ")
			return strings.TrimSpace(strings.Split(rest, ",")[0])
		}
	case "javascript", "typescript":
		if idx := strings.LastIndex(text, "from"); idx >= 0 {
			return strings.Trim(strings.TrimSpace(text[idx+len("from"):]), "\"';")
		}
	case "go":
		for _, part := range strings.Split(text, `"`) {
			if strings.Contains(part, "/") || isAlpha(part) {
				return part
			}
		}
	case "rust":
		target := strings.TrimSuffix(strings.TrimPrefix(text, "use "), ";")
		return strings.Split(target, "::")[0]
	case "java":
		return strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(text, "import "), ";"))
	case "c", "cpp":
		if idx := strings.IndexByte(text, '<'); idx >= 0 {
			rest := text[idx+1:]
			if end := strings.IndexByte(rest, '>'); end >= 0 {
				return rest[:end]
			}
			return rest
		}
		if idx := strings.IndexByte(text, '"'); idx >= 0 {
			rest := text[idx+1:]
			if end := strings.IndexByte(rest, '"'); end >= 0 {
				return rest[:end]
			}
			return rest
		}
	}
	return ""
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

func truncateDoc(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

func typeSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}
