package extractor

import (
	"strings"
	"testing"
)

func TestExtractCodeBlocks_Fenced(t *testing.T) {
	markdown := "# Design notes\n" +
		"Some prose about the system.\n\n" +
		"```python\n" +
		"def handler(event):\n" +
		"    return event\n" +
		"```\n\n" +
		"More prose.\n\n" +
		"```\n" +
		"func main() {\n" +
		"\tfmt.Println(\"hi\")\n" +
		"}\n" +
		"```\n\n" +
		"```js\nx\n```\n"

	blocks := ExtractCodeBlocks(markdown)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %+v", len(blocks), blocks)
	}

	if blocks[0].Language != "python" {
		t.Errorf("expected python from tag, got %q", blocks[0].Language)
	}
	if !strings.Contains(blocks[0].Code, "def handler(event):") {
		t.Errorf("unexpected code: %q", blocks[0].Code)
	}

	// 没有语言标签: 内容启发式识别
	if blocks[1].Language != "go" {
		t.Errorf("expected go from content, got %q", blocks[1].Language)
	}
	if blocks[1].Index != 1 {
		t.Errorf("expected index 1, got %d", blocks[1].Index)
	}
}

func TestExtractCodeBlocks_DroppedFencesKeepNumbering(t *testing.T) {
	// 被丢弃的短块也占号, 合成路径编号随fence位置走
	markdown := "```sh\nls\n```\n\n" +
		"```python\ndef handler(event):\n    return event\n```\n"

	blocks := ExtractCodeBlocks(markdown)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d: %+v", len(blocks), blocks)
	}
	if blocks[0].Index != 1 {
		t.Errorf("expected index 1 after dropped fence, got %d", blocks[0].Index)
	}
	if got := blocks[0].SyntheticPath("notes.md"); got != "notes.md:block_1.py" {
		t.Errorf("unexpected synthetic path: %q", got)
	}
}

func TestExtractCodeBlocks_TagAliases(t *testing.T) {
	markdown := "```c++\nint add(int a, int b) { return a + b; }\n```"
	blocks := ExtractCodeBlocks(markdown)
	if len(blocks) != 1 || blocks[0].Language != "cpp" {
		t.Fatalf("expected cpp block, got %+v", blocks)
	}
}

func TestExtractCodeBlocks_Plaintext(t *testing.T) {
	text := `Chapter 3: Memory Management

The allocator works as follows.

#include <stdlib.h>
void *arena_alloc(size_t n) {
    return malloc(n);
}

As shown above, allocation is delegated.`

	blocks := ExtractCodeBlocks(text)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d: %+v", len(blocks), blocks)
	}
	if blocks[0].Language != "c" {
		t.Errorf("expected c, got %q", blocks[0].Language)
	}
	if !strings.Contains(blocks[0].Code, "arena_alloc") {
		t.Errorf("unexpected code: %q", blocks[0].Code)
	}
	if strings.Contains(blocks[0].Code, "As shown above") {
		t.Error("prose leaked into code block")
	}
}

func TestExtractCodeBlocks_NoCode(t *testing.T) {
	if blocks := ExtractCodeBlocks("just a paragraph of prose with no code at all"); len(blocks) != 0 {
		t.Errorf("expected no blocks, got %+v", blocks)
	}
}

func TestDetectLanguageFromContent(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"c include", "#include <stdio.h>\nint main() { return 0; }", "c"},
		{"cpp include", "#include <iostream>\nint main() { std::cout << 1; }", "cpp"},
		{"python def", "def foo(x):\n    return x", "python"},
		{"rust", "fn main() {\n    let x = 5;\n}", "rust"},
		{"go", "package main\n\nfunc main() {\n\tfmt.Println(1)\n}", "go"},
		{"java", "public class Main {\n    public static void main(String[] a) {}\n}", "java"},
		{"javascript", "const add = (a, b) => a + b;", "javascript"},
		{"unknown", "some random text", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLanguageFromContent(tt.code); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodeBlock_SyntheticPath(t *testing.T) {
	block := CodeBlock{Language: "python", Code: "def f(): pass", Index: 2}
	if got := block.SyntheticPath("notes.md"); got != "notes.md:block_2.py" {
		t.Errorf("unexpected synthetic path: %q", got)
	}
}
