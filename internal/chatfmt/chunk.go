package chatfmt

import (
	"strings"
	"unicode/utf8"
)

// sentenceEnd 句末标点 (ASCII 与全角)。
const sentenceEnd = ".!?;。！？；"

// Chunk 将清洗后的文本切成长度 (按 rune 计) 不超过 maxLength 的片段。
//
// 先按空行分段, 超长段落再按句末标点切句并贪心装箱, 单句仍超长则按 maxLength 硬切。
// 整体不超长时原样返回单个元素。maxLength <= 0 视为不限制。
func Chunk(text string, maxLength int) []string {
	s := StripMarkup(text)
	if maxLength <= 0 || runeLen(s) <= maxLength {
		return []string{s}
	}

	var out []string
	for _, para := range strings.Split(s, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if runeLen(para) <= maxLength {
			out = append(out, para)
			continue
		}
		out = append(out, packSentences(splitSentences(para), maxLength)...)
	}
	return out
}

// splitSentences 在句末标点 (及其后紧跟的空白) 之后切分, 拼接结果等于原文。
func splitSentences(para string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(para)
	for i := 0; i < len(runes); i++ {
		if !strings.ContainsRune(sentenceEnd, runes[i]) {
			continue
		}
		// 连续标点 ("?!" "……。") 归入同一句
		for i+1 < len(runes) && strings.ContainsRune(sentenceEnd, runes[i+1]) {
			i++
		}
		for i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\t' || runes[i+1] == '\n') {
			i++
		}
		out = append(out, string(runes[start:i+1]))
		start = i + 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

// packSentences 贪心装箱: 下一句放不下时先输出缓冲区。
func packSentences(sentences []string, maxLength int) []string {
	var (
		out []string
		buf strings.Builder
	)
	flush := func() {
		if chunk := strings.TrimSpace(buf.String()); chunk != "" {
			out = append(out, chunk)
		}
		buf.Reset()
	}

	for _, sent := range sentences {
		if runeLen(strings.TrimSpace(sent)) > maxLength {
			flush()
			out = append(out, hardSlice(strings.TrimSpace(sent), maxLength)...)
			continue
		}
		if runeLen(strings.TrimSpace(buf.String()+sent)) > maxLength {
			flush()
		}
		buf.WriteString(sent)
	}
	flush()
	return out
}

// hardSlice 按 maxLength 个 rune 硬切。
func hardSlice(s string, maxLength int) []string {
	runes := []rune(s)
	out := make([]string, 0, len(runes)/maxLength+1)
	for len(runes) > 0 {
		n := min(maxLength, len(runes))
		if part := strings.TrimSpace(string(runes[:n])); part != "" {
			out = append(out, part)
		}
		runes = runes[n:]
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
