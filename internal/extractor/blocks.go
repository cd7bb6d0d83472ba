package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
)

// CodeBlock 从混合内容里恢复出的代码块
type CodeBlock struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Index    int    `json:"index"`
}

// SyntheticPath 代码块的合成文件路径, 供解析器和图谱引用
func (b CodeBlock) SyntheticPath(origin string) string {
	return fmt.Sprintf("%s:block_%d%s", origin, b.Index, ExtensionFor(b.Language))
}

// minBlockLen 过短的片段不值得解析
const minBlockLen = 10

// tagMap markdown语言标签到解析器语言名的映射
var tagMap = map[string]string{
	"python": "python", "py": "python", "python3": "python",
	"javascript": "javascript", "js": "javascript", "jsx": "javascript",
	"typescript": "typescript", "ts": "typescript", "tsx": "typescript",
	"go": "go", "golang": "go",
	"rust": "rust", "rs": "rust",
	"java": "java",
	"c":    "c",
	"cpp":  "cpp", "c++": "cpp", "cxx": "cpp", "cc": "cpp",
	"h": "c", "hpp": "cpp",
}

// ExtractCodeBlocks 从markdown或纯文本中恢复代码块
// 优先认fenced代码块, 一个都没有时回落到纯文本扫描 (比如PDF抽出的文本)
func ExtractCodeBlocks(content string) []CodeBlock {
	blocks := extractFenced(content)
	if len(blocks) == 0 {
		blocks = extractFromPlaintext(content)
	}
	return blocks
}

// extractFenced 用markdown解析器提取fenced代码块
func extractFenced(content string) []CodeBlock {
	source := []byte(content)
	doc := goldmark.New().Parser().Parse(gtext.NewReader(source))

	var blocks []CodeBlock
	index := 0
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fenced, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		// 编号按fence出现位置走, 被丢弃的短块也占号
		blockIdx := index
		index++

		var sb strings.Builder
		for i := 0; i < fenced.Lines().Len(); i++ {
			segment := fenced.Lines().At(i)
			sb.Write(segment.Value(source))
		}
		code := strings.TrimSpace(sb.String())
		if len(code) < minBlockLen {
			return ast.WalkContinue, nil
		}

		tag := strings.ToLower(strings.TrimSpace(string(fenced.Language(source))))
		language := tagMap[tag]
		if language == "" && tag != "" {
			language = extensions["."+tag]
		}
		if language == "" {
			language = DetectLanguageFromContent(code)
		}

		blocks = append(blocks, CodeBlock{Language: language, Code: code, Index: blockIdx})
		return ast.WalkContinue, nil
	})
	return blocks
}

// 纯文本扫描的行数上限
const maxPlaintextBlockLines = 200

// extractFromPlaintext 从纯文本里按花括号配平恢复代码块
func extractFromPlaintext(content string) []CodeBlock {
	var blocks []CodeBlock
	lines := strings.Split(content, "\n")
	blockIdx := 0

	i := 0
	for i < len(lines) {
		if !isCodeStart(strings.TrimSpace(lines[i])) {
			i++
			continue
		}

		var codeLines []string
		braceDepth := 0
		foundBrace := false
		j := i
		for j < len(lines) && j-i < maxPlaintextBlockLines {
			line := lines[j]
			codeLines = append(codeLines, line)
			braceDepth += strings.Count(line, "{") - strings.Count(line, "}")
			if strings.Contains(line, "{") {
				foundBrace = true
			}
			if foundBrace && braceDepth <= 0 {
				break
			}
			j++
		}

		code := strings.TrimSpace(strings.Join(codeLines, "\n"))
		if len(code) >= 20 && foundBrace {
			if language := DetectLanguageFromContent(code); language != "" {
				blocks = append(blocks, CodeBlock{Language: language, Code: code, Index: blockIdx})
				blockIdx++
				i = j + 1
				continue
			}
		}
		i++
	}
	return blocks
}

// codeStartPatterns 识别代码区域开头的行
var codeStartPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^#include\b`),
	regexp.MustCompile(`^(int|void|char|float|double|bool|auto|class|struct|template)\s+\w+`),
	regexp.MustCompile(`^(public|private|protected)\s*:`),
	regexp.MustCompile(`^(def|class)\s+\w+`),
	regexp.MustCompile(`^fn\s+\w+`),
	regexp.MustCompile(`^func\s+\w+`),
	regexp.MustCompile(`^(function|const|let|var)\s+\w+`),
	regexp.MustCompile(`^import\s+`),
	regexp.MustCompile(`^package\s+`),
	regexp.MustCompile(`^using\s+namespace\b`),
}

func isCodeStart(line string) bool {
	for _, p := range codeStartPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

var (
	pyDefPattern    = regexp.MustCompile(`\bdef \w+\(.*\)\s*:`)
	rustFnPattern   = regexp.MustCompile(`\bfn \w+`)
	goFuncPattern   = regexp.MustCompile(`\bfunc \w+`)
	jsVarPattern    = regexp.MustCompile(`\b(const|let|var)\b`)
	cTypeSigPattern = regexp.MustCompile(`\b(int|void|char|float|double)\s+\w+\s*\(`)
)

// DetectLanguageFromContent 从代码内容启发式识别语言, 识别不出返回空串
func DetectLanguageFromContent(code string) string {
	lines := strings.SplitN(code, "\n", 21)
	sample := strings.Join(lines, "\n")

	if strings.Contains(sample, "#include") {
		if strings.Contains(sample, "iostream") || strings.Contains(sample, "std::") ||
			strings.Contains(sample, "class ") || strings.Contains(sample, "cout") {
			return "cpp"
		}
		return "c"
	}

	if pyDefPattern.MatchString(sample) {
		return "python"
	}
	if strings.Contains(lines[0], "import ") && !strings.Contains(sample, "java.") {
		return "python"
	}

	if rustFnPattern.MatchString(sample) && (strings.Contains(sample, "::") || strings.Contains(sample, "let ")) {
		return "rust"
	}

	if goFuncPattern.MatchString(sample) && (strings.Contains(sample, "package ") || strings.Contains(sample, "fmt.")) {
		return "go"
	}

	if strings.Contains(sample, "public class ") || strings.Contains(sample, "import java.") {
		return "java"
	}

	if jsVarPattern.MatchString(sample) && (strings.Contains(sample, "=>") || strings.Contains(sample, "function ")) {
		return "javascript"
	}

	// 通用C/C++兜底: 类型签名
	if cTypeSigPattern.MatchString(sample) {
		if strings.Contains(sample, "cout") || strings.Contains(sample, "cin") ||
			strings.Contains(sample, "::") || strings.Contains(sample, "class ") {
			return "cpp"
		}
		return "c"
	}

	return ""
}
