package service

import (
	"regexp"
	"strings"
)

// DefaultWorkspace 未能推导出工作区时的兜底值
const DefaultWorkspace = "default"

const maxWorkspaceLen = 64

// workspacePattern 从system提示词里提取工作区声明
// 匹配第一处 "workspace: xxx" 或 "project = xxx" 形式的声明
var workspacePattern = regexp.MustCompile(`(?i)(?:workspace|project)\s*[:=]\s*["']?([\w.-]+)`)

var workspaceSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// DeriveWorkspace 推导请求所属的工作区
// 优先级: 请求体字段 > HTTP头 > system提示词声明 > default
func DeriveWorkspace(bodyValue, headerValue, systemPrompt string) string {
	if strings.TrimSpace(bodyValue) != "" {
		return SanitizeWorkspace(bodyValue)
	}
	if strings.TrimSpace(headerValue) != "" {
		return SanitizeWorkspace(headerValue)
	}
	if match := workspacePattern.FindStringSubmatch(systemPrompt); match != nil {
		return SanitizeWorkspace(match[1])
	}
	return DefaultWorkspace
}

// SanitizeWorkspace 将任意输入规整为合法工作区名
// 非法字符替换为'-', 截断到64字符, 空值回落到default
func SanitizeWorkspace(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultWorkspace
	}
	sanitized := workspaceSanitizer.ReplaceAllString(trimmed, "-")
	if len(sanitized) > maxWorkspaceLen {
		sanitized = sanitized[:maxWorkspaceLen]
	}
	if sanitized == "" {
		return DefaultWorkspace
	}
	return sanitized
}
