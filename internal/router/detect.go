package router

import "strings"

// Function is a keyword-reachable feature of the bot.
type Function string

const (
	FunctionRecipe Function = "recipe"
	FunctionRecord Function = "record"
	FunctionView   Function = "view"
	FunctionDelete Function = "delete"
	FunctionHelp   Function = "help"
	FunctionExit   Function = "exit"
)

// functionKeywords is checked in declaration order; within a function the
// keywords are checked in declaration order too, so the first match wins.
// Matching is a case-insensitive substring test.
var functionKeywords = []struct {
	fn       Function
	keywords []string
}{
	{FunctionRecipe, []string{"食譜功能", "食譜", "recipe", "開始食譜", "使用食譜", "食譜模式"}},
	{FunctionRecord, []string{"記錄功能", "記錄", "record", "開始記錄", "使用記錄", "記錄模式"}},
	{FunctionView, []string{"查看功能", "查看", "view", "查詢", "查詢功能", "我的記錄", "記錄查詢"}},
	{FunctionDelete, []string{"刪除功能", "刪除", "delete", "消耗", "消耗功能", "使用"}},
	{FunctionHelp, []string{"幫助", "help", "功能", "選單", "menu", "說明"}},
	{FunctionExit, []string{"退出", "exit", "結束", "取消", "cancel"}},
}

// Detect finds the first function whose keyword appears in text.
func Detect(text string) (Function, bool) {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return "", false
	}
	for _, entry := range functionKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(lowered, strings.ToLower(keyword)) {
				return entry.fn, true
			}
		}
	}
	return "", false
}
