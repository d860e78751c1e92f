package util

import "io"

// LimitedWriter 限制写入字节数, 超出后静默丢弃。
//
// 用于读取后端响应体: 异常大的 payload 被截断而不是撑爆内存,
// 调用方通过 Overflow() 判断是否发生截断。
type LimitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	discarded bool
}

// NewLimitedWriter 创建 LimitedWriter。
func NewLimitedWriter(w io.Writer, limit int) *LimitedWriter {
	return &LimitedWriter{w: w, limit: limit}
}

// Write 写入 p, 超限部分静默丢弃并返回 len(p)。
func (lw *LimitedWriter) Write(p []byte) (int, error) {
	remain := lw.limit - lw.written
	if remain <= 0 {
		if len(p) > 0 {
			lw.discarded = true
		}
		return len(p), nil
	}
	total := len(p)
	if total > remain {
		p = p[:remain]
		lw.discarded = true
	}
	n, err := lw.w.Write(p)
	lw.written += n
	if err != nil {
		return n, err
	}
	return total, nil
}

// Overflow 返回是否有字节被丢弃。
func (lw *LimitedWriter) Overflow() bool { return lw.discarded }

// Written 返回实际已写入的字节数。
func (lw *LimitedWriter) Written() int { return lw.written }
