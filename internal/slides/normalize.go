// Package slides 将结果载荷转换为四张固定顺序的幻灯片。
package slides

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// Result 归一化后的方案结果。缺失的列表字段为空切片而不是错误。
type Result struct {
	ProjectName   string   `json:"project_name"`
	TargetUser    string   `json:"target_user"`
	Difficulty    string   `json:"difficulty"`
	CoreIdea      string   `json:"core_idea"`
	Materials     []string `json:"materials"`
	Steps         []string `json:"steps"`
	Outcomes      []string `json:"learning_outcomes"`
	PreviewSource string   `json:"preview_source"`
}

// 字段候选键, 靠前优先。
var (
	keysProjectName = []string{"project_name", "project_title", "title", "name"}
	keysTargetUser  = []string{"target_user", "target_audience", "audience"}
	keysDifficulty  = []string{"difficulty", "level"}
	keysCoreIdea    = []string{"core_idea", "idea", "description", "summary"}
	keysMaterials   = []string{"materials", "material_list"}
	keysSteps       = []string{"steps", "instructions"}
	keysOutcomes    = []string{"learning_outcomes", "outcomes"}
	keysPreview     = []string{"preview_image", "preview_url", "image_url"}

	// 列表项为对象时依次尝试的文字字段
	itemTextKeys = []string{"name", "title", "text", "step", "description", "content"}
	itemQtyKeys  = []string{"quantity", "qty", "amount", "count"}
)

var reMarkdownImage = regexp.MustCompile(`!\[[^\]]*\]\(\s*([^)\s]+)[^)]*\)`)

// Normalize 从两种载荷形态中提取结果: 平铺, 或嵌套在 solution 下。
// 每个字段在 [平铺, solution] 中按顺序查找, 先命中者生效。
func Normalize(payload map[string]any) Result {
	sources := []map[string]any{payload}
	if sol := asObject(payload["solution"]); sol != nil {
		sources = append(sources, sol)
	}

	return Result{
		ProjectName:   lookupString(sources, keysProjectName),
		TargetUser:    lookupString(sources, keysTargetUser),
		Difficulty:    lookupString(sources, keysDifficulty),
		CoreIdea:      lookupString(sources, keysCoreIdea),
		Materials:     lookupList(sources, keysMaterials),
		Steps:         lookupList(sources, keysSteps),
		Outcomes:      lookupList(sources, keysOutcomes),
		PreviewSource: UnwrapImage(lookupString(sources, keysPreview)),
	}
}

// UnwrapImage 取出 markdown 图片语法 ![alt](url) 中的地址, 其他输入原样 (去空白) 返回。
func UnwrapImage(s string) string {
	s = strings.TrimSpace(s)
	if m := reMarkdownImage.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// asObject solution 可能是对象, 也可能是 JSON 字符串。
func asObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		var m map[string]any
		if json.Unmarshal([]byte(strings.TrimSpace(t)), &m) == nil {
			return m
		}
	}
	return nil
}

func lookupString(sources []map[string]any, keys []string) string {
	for _, src := range sources {
		for _, k := range keys {
			if s := scalarText(src[k]); s != "" {
				return s
			}
		}
	}
	return ""
}

func lookupList(sources []map[string]any, keys []string) []string {
	for _, src := range sources {
		for _, k := range keys {
			if v, ok := src[k]; ok && v != nil {
				if items := toList(v); len(items) > 0 {
					return items
				}
			}
		}
	}
	return []string{}
}

func scalarText(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprint(t)
	case bool:
		return fmt.Sprint(t)
	}
	return ""
}

// toList 接受字符串数组、对象数组或多行字符串。
func toList(v any) []string {
	switch t := v.(type) {
	case []any:
		return lo.FilterMap(t, func(item any, _ int) (string, bool) {
			s := itemText(item)
			return s, s != ""
		})
	case []string:
		return lo.Compact(lo.Map(t, func(s string, _ int) string { return strings.TrimSpace(s) }))
	case string:
		return lo.Compact(lo.Map(strings.Split(t, "\n"), func(s string, _ int) string {
			return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), "-*•"))
		}))
	}
	return nil
}

func itemText(item any) string {
	if obj, ok := item.(map[string]any); ok {
		text := lookupString([]map[string]any{obj}, itemTextKeys)
		if qty := lookupString([]map[string]any{obj}, itemQtyKeys); qty != "" && text != "" {
			return text + " x" + qty
		}
		return text
	}
	return scalarText(item)
}
