package rules

import "github.com/whisper/bridge/internal/route"

// commandVerbs open an imperative addressed to the ship's computer.
var commandVerbs = []string{"报告", "查询", "设定", "锁定", "扫描", "显示", "确认", "执行", "计算", "诊断", "导航", "同步"}

// smalltalkSignals lean an utterance towards free-form chat.
var smalltalkSignals = []string{"哈哈", "😂", "lol", "随便聊", "讲个笑话", "你觉得", "你怎么看", "开个玩笑", "吃什么"}

// DefaultSpecs returns the built-in rule set. Order matters: explicit mode
// switches beat the wake word, smalltalk de-escalation beats command verbs.
func DefaultSpecs() []Spec {
	specs := []Spec{
		{
			Name:       "manual_exit",
			Kind:       KindRegex,
			Pattern:    `(退出计算机模式|退出电脑模式|computer off|exit computer mode|停止计算机)`,
			Route:      route.Chat,
			Confidence: 1.0,
		},
		{
			Name:       "manual_enter",
			Kind:       KindRegex,
			Pattern:    `(进入计算机模式|计算机模式|computer on|enter computer mode)`,
			Route:      route.Computer,
			Confidence: 1.0,
		},
		{
			Name:       "wake_word",
			Kind:       KindRegex,
			Pattern:    `^(computer|计算机|电脑)`,
			Route:      route.Computer,
			Confidence: 0.95,
		},
	}
	for _, s := range smalltalkSignals {
		specs = append(specs, Spec{
			Name:       "smalltalk_signal:" + s,
			Kind:       KindContains,
			Pattern:    s,
			Route:      route.Chat,
			Confidence: 0.8,
		})
	}
	for _, v := range commandVerbs {
		specs = append(specs, Spec{
			Name:       "command_verb:" + v,
			Kind:       KindPrefix,
			Pattern:    v,
			Route:      route.Computer,
			Confidence: 0.85,
		})
	}
	return specs
}

// Default returns an engine compiled from DefaultSpecs.
func Default() *Engine {
	return MustNew(DefaultSpecs())
}
