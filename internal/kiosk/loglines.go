package kiosk

import "fmt"

// 加载动画的装饰日志, 按来源循环输出。
var logScripts = map[LoadReason][]string{
	LoadIdea: {
		"parsing idea",
		"matching project templates",
		"drafting materials list",
		"ordering build steps",
		"estimating difficulty",
		"writing learning outcomes",
		"rendering preview image",
	},
	LoadSnapshot: {
		"capturing frame",
		"correcting perspective",
		"running vision analysis",
		"recognising sketch elements",
		"generating solution",
		"rendering preview image",
	},
	LoadBackend: {
		"receiving capture",
		"running vision analysis",
		"generating solution",
		"rendering preview image",
	},
}

// LogLine 第 tick 个装饰日志行 (tick 从 1 开始), 相同输入结果相同。
func LogLine(reason LoadReason, tick int) string {
	script, ok := logScripts[reason]
	if !ok {
		script = logScripts[LoadBackend]
	}
	if tick < 1 {
		tick = 1
	}
	i := (tick - 1) % len(script)
	dots := (tick-1)/len(script)%3 + 1
	return fmt.Sprintf("[%03d] %s%s", tick, script[i], "..."[:dots])
}
