// Package chatfmt 聊天消息清洗、分段与分页。全部为纯函数。
package chatfmt

import (
	"regexp"
	"strings"
)

// Bullet 列表项统一使用的符号。
const Bullet = "•"

var (
	reFence      = regexp.MustCompile("(?m)^[ \t]*```[^\n]*\n?")
	reImage      = regexp.MustCompile(`!\[[^\]\n]*\]\([^)\n]*\)`)
	reLink       = regexp.MustCompile(`\[([^\]\n]+)\]\([^)\n]*\)`)
	reHeading    = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]+`)
	reBullet     = regexp.MustCompile(`(?m)^([ \t]*)[-*+•·●▪][ \t]+`)
	// 强调: 标记内侧紧贴非空白, 反斜杠转义的标记不处理
	reBold       = regexp.MustCompile(`(^|[^\\])\*\*([^*\s](?:[^*\n]*[^*\s\\])?)\*\*`)
	reBoldUnder  = regexp.MustCompile(`__([^_\n]+)__`)
	reItalic     = regexp.MustCompile(`(^|[^\\*])\*([^*\s](?:[^*\n]*[^*\s\\])?)\*`)
	reItalicUnd  = regexp.MustCompile(`(^|[^\w])_([^_\n]+)_([^\w]|$)`)
	reInlineCode = regexp.MustCompile("`+([^`\n]+)`+")
	reTrailingWS = regexp.MustCompile(`(?m)[ \t]+$`)
	reBlankRun   = regexp.MustCompile(`\n{3,}`)
)

// StripMarkup 去除轻量标记, 保留正文。
//
// 处理: 标题、粗体/斜体、代码围栏与行内代码、链接 (保留文字)、图片 (整体移除)、
// 列表符号统一为 Bullet、两行以上空行折叠为一行、首尾空白。
// 单轮替换可能暴露新的标记, 因此重复到不再变化为止, 保证 StripMarkup 幂等。
func StripMarkup(text string) string {
	s := strings.ReplaceAll(text, "\r\n", "\n")
	for i := 0; i < 32; i++ {
		next := stripOnce(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func stripOnce(s string) string {
	s = reFence.ReplaceAllString(s, "")
	s = reImage.ReplaceAllString(s, "")
	s = reLink.ReplaceAllString(s, "$1")
	s = reHeading.ReplaceAllString(s, "")
	// 列表符号先于斜体处理, 行首 "* " 不会被当作强调
	s = reBullet.ReplaceAllString(s, "${1}"+Bullet+" ")
	s = reBold.ReplaceAllString(s, "$1$2")
	s = reBoldUnder.ReplaceAllString(s, "$1")
	s = reItalic.ReplaceAllString(s, "$1$2")
	s = reItalicUnd.ReplaceAllString(s, "$1$2$3")
	s = reInlineCode.ReplaceAllString(s, "$1")
	s = reTrailingWS.ReplaceAllString(s, "")
	s = reBlankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
