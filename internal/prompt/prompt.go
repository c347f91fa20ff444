package prompt

import (
	"fmt"
	"strings"

	"github.com/agenthands/medrag/internal/core/model"
)

const (
	// FallbackAnswer is returned when no entity in the question links to the graph.
	FallbackAnswer = "抱歉，我无法从您的问题中识别出相关的医疗实体。请尝试使用更具体的疾病名称或症状描述。"
	// NoContext stands in for an empty context.
	NoContext = "未找到相关信息"
)

type section struct {
	heading string
	items   func(c *model.RankedContext) []model.ContextItem
}

var sections = []section{
	{"## 相关疾病：", func(c *model.RankedContext) []model.ContextItem { return c.Diseases }},
	{"## 相关症状：", func(c *model.RankedContext) []model.ContextItem { return c.Symptoms }},
	{"## 相关药品：", func(c *model.RankedContext) []model.ContextItem { return c.Drugs }},
	{"## 相关检查：", func(c *model.RankedContext) []model.ContextItem { return c.Checks }},
	{"## 相关科室：", func(c *model.RankedContext) []model.ContextItem { return c.Departments }},
	{"## 宜吃食物：", func(c *model.RankedContext) []model.ContextItem { return c.Dietary.Eat }},
	{"## 忌吃食物：", func(c *model.RankedContext) []model.ContextItem { return c.Dietary.Avoid }},
	{"## 相关食物：", func(c *model.RankedContext) []model.ContextItem { return c.Dietary.Related }},
	{"## 预防措施：", func(c *model.RankedContext) []model.ContextItem { return c.Prevention }},
}

// ContextLines renders the context as headed bullet lists, one line per entry.
func ContextLines(c *model.RankedContext) []string {
	if c == nil {
		return nil
	}
	var lines []string
	for _, s := range sections {
		items := s.items(c)
		if len(items) == 0 {
			continue
		}
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, s.heading)
		for _, it := range items {
			lines = append(lines, itemLine(it))
		}
	}
	return lines
}

func itemLine(it model.ContextItem) string {
	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(it.Name)
	if it.Description != "" {
		b.WriteString(": ")
		b.WriteString(it.Description)
	}
	switch {
	case it.Kind == model.KindDisease && !it.Seed && it.Score > 0:
		fmt.Fprintf(&b, " (匹配度: %.2f)", it.Score)
	case it.Relation.Weighted() && it.Weight > 0:
		fmt.Fprintf(&b, " (相关性: %.2f)", it.Weight)
	}
	return b.String()
}

// ContextText joins ContextLines, or returns NoContext for an empty context.
func ContextText(c *model.RankedContext) string {
	lines := ContextLines(c)
	if len(lines) == 0 {
		return NoContext
	}
	return strings.Join(lines, "\n")
}

// Answer builds the grounded answering prompt.
func Answer(question, context string) string {
	return fmt.Sprintf(`你是一名专业的医疗诊断助手。请基于以下知识库信息回答用户的问题。

## 知识库信息：
%s

## 用户问题：
%s

## 要求：
1. 请基于上述知识库信息回答问题，不要编造不存在的内容
2. 如果知识库中没有相关信息，请明确说明"根据现有知识库，未找到相关信息"
3. 在回答中引用具体的疾病名称、症状、药品等实体
4. 使用通俗易懂的语言，适合患者理解
5. 提供专业但谨慎的建议，提醒用户咨询专业医生
6. 如果涉及用药建议，请明确说明"以上信息仅供参考，具体用药请咨询专业医生"

## 回答：
`, context, question)
}

// Summarize keeps the non-empty lines among the first ten, for logs.
func Summarize(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}
	out := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
