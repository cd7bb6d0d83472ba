package extractor

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// languages 语言名到tree-sitter语法的映射
var languages = map[string]*sitter.Language{
	"python":     python.GetLanguage(),
	"javascript": javascript.GetLanguage(),
	"typescript": typescript.GetLanguage(),
	"go":         golang.GetLanguage(),
	"rust":       rust.GetLanguage(),
	"java":       java.GetLanguage(),
	"c":          c.GetLanguage(),
	"cpp":        cpp.GetLanguage(),
}

// extensions 扩展名到语言名的映射
var extensions = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".go":   "go",
	".rs":   "rust",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cxx":  "cpp",
	".hpp":  "cpp",
	".hh":   "cpp",
	".hxx":  "cpp",
}

// languageExtension 语言名到首选扩展名 (合成文件路径用)
var languageExtension = map[string]string{
	"python":     ".py",
	"javascript": ".js",
	"typescript": ".ts",
	"go":         ".go",
	"rust":       ".rs",
	"java":       ".java",
	"c":          ".c",
	"cpp":        ".cpp",
}

// DetectLanguage 根据文件扩展名识别语言, 不支持时返回空串
func DetectLanguage(filePath string) string {
	for ext, lang := range extensions {
		if strings.HasSuffix(filePath, ext) {
			return lang
		}
	}
	return ""
}

// Supported 是否为可解析的语言
func Supported(language string) bool {
	_, ok := languages[language]
	return ok
}

// SupportedLanguages 全部可解析语言名
func SupportedLanguages() []string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	return names
}

// ExtensionFor 语言的首选扩展名, 未知语言回落到.txt
func ExtensionFor(language string) string {
	if ext, ok := languageExtension[language]; ok {
		return ext
	}
	return ".txt"
}
