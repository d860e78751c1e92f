package chatfmt

import (
	"fmt"

	"github.com/sparkbox/go-kiosk/pkg/util"
)

// Role 消息角色。
type Role string

const (
	RoleUser   Role = "user"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

// Message 聊天记录中的一条。Part/Parts 仅在 AI 长消息被拆分时非零。
type Message struct {
	Role  Role   `json:"role"`
	Text  string `json:"text"`
	Part  int    `json:"part,omitempty"`
	Parts int    `json:"parts,omitempty"`
}

// MinChunkLength 可配置的最小拆分长度, 保证 [i/n] 前缀之外仍有正文空间。
const MinChunkLength = 16

// Label 拆分片段的前缀, 如 "[2/3] "。
func Label(part, parts int) string { return fmt.Sprintf("[%d/%d] ", part, parts) }

// Expand 将一条原始消息展开为聊天记录。
//
// user/system 只清洗不拆分; ai 消息超过 maxLength 时拆分并加 [i/n] 前缀,
// 前缀计入长度, 每条展开结果仍不超过 maxLength; maxLength 容不下前缀时
// 片段不加前缀 (Part/Parts 照常填写)。结果对相同输入是确定的。
func Expand(role Role, text string, maxLength int) []Message {
	if role != RoleAI {
		return []Message{{Role: role, Text: StripMarkup(text)}}
	}

	budget := maxLength
	parts := Chunk(text, budget)
	if len(parts) <= 1 {
		return []Message{{Role: role, Text: parts[0]}}
	}
	// 前缀宽度依赖片段数, 片段数又依赖预算, 迭代到稳定
	for i := 0; i < 8; i++ {
		width := runeLen(Label(len(parts), len(parts)))
		if budget+width <= maxLength || maxLength-width < 1 {
			break
		}
		budget = maxLength - width
		parts = Chunk(text, budget)
	}

	labeled := true
	for i, p := range parts {
		if runeLen(Label(i+1, len(parts)))+runeLen(p) > maxLength {
			labeled = false
			break
		}
	}
	if !labeled {
		parts = Chunk(text, maxLength)
	}

	out := make([]Message, len(parts))
	for i, p := range parts {
		if labeled {
			p = Label(i+1, len(parts)) + p
		}
		out[i] = Message{Role: role, Text: p, Part: i + 1, Parts: len(parts)}
	}
	return out
}

// PageCount 分页总数, 空记录也算一页。
func PageCount(n, size int) int {
	if size <= 0 || n == 0 {
		return 1
	}
	return (n + size - 1) / size
}

// Page 返回第 page 页 (从 1 开始) 的消息, 以及夹紧后的页码与总页数。
// 第 p 页包含 [(p-1)*size, p*size)。
func Page(msgs []Message, page, size int) ([]Message, int, int) {
	if size <= 0 {
		size = len(msgs)
	}
	total := PageCount(len(msgs), size)
	page = util.ClampInt(page, 1, total)
	if len(msgs) == 0 {
		return nil, page, total
	}
	start := (page - 1) * size
	end := min(start+size, len(msgs))
	return msgs[start:end], page, total
}
