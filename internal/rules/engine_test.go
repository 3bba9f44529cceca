package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/bridge/internal/route"
)

func TestClassify_ContainsRule(t *testing.T) {
	e := MustNew([]Spec{{Name: "status", Kind: KindContains, Pattern: "状态", Route: route.Computer, Confidence: 0.9}})

	res := e.Classify(route.Normalize("报告传感器状态"))
	assert.Equal(t, route.Computer, res.Route)
	assert.Equal(t, "status", res.MatchedPattern)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestClassify_NoMatch(t *testing.T) {
	e := MustNew([]Spec{{Kind: KindContains, Pattern: "状态", Route: route.Computer, Confidence: 0.9}})

	res := e.Classify(route.Normalize("随便聊聊"))
	assert.Equal(t, route.Unknown, res.Route)
	assert.Zero(t, res.Confidence)
	assert.Empty(t, res.MatchedPattern)
}

func TestClassify_FirstMatchWins(t *testing.T) {
	e := MustNew([]Spec{
		{Name: "first", Kind: KindContains, Pattern: "scan", Route: route.Chat, Confidence: 0.5},
		{Name: "second", Kind: KindContains, Pattern: "scan", Route: route.Computer, Confidence: 0.9},
	})

	res := e.Classify("scan the area")
	assert.Equal(t, "first", res.MatchedPattern)
	assert.Equal(t, route.Chat, res.Route)
}

func TestClassify_Kinds(t *testing.T) {
	e := MustNew([]Spec{
		{Name: "prefix", Kind: KindPrefix, Pattern: "Scan", Route: route.Computer, Confidence: 0.8},
		{Name: "regex", Kind: KindRegex, Pattern: `deck \d+`, Route: route.Computer, Confidence: 0.7},
	})

	tests := []struct {
		input string
		want  string
	}{
		{"scan sector 7", "prefix"},
		{"please scan", ""},
		{"go to deck 12", "regex"},
		{"go to deck", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			res := e.Classify(route.Normalize(tt.input))
			assert.Equal(t, tt.want, res.MatchedPattern)
		})
	}
}

func TestNew_InvalidSpecs(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"bad regex", Spec{Kind: KindRegex, Pattern: "(", Route: route.Chat}},
		{"unknown kind", Spec{Kind: "glob", Pattern: "x", Route: route.Chat}},
		{"empty pattern", Spec{Kind: KindContains, Pattern: "  ", Route: route.Chat}},
		{"unknown route", Spec{Kind: KindContains, Pattern: "x", Route: route.Unknown}},
		{"blocked route", Spec{Kind: KindContains, Pattern: "x", Route: route.Blocked}},
		{"confidence", Spec{Kind: KindContains, Pattern: "x", Route: route.Chat, Confidence: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New([]Spec{tt.spec})
			require.Error(t, err)
		})
	}
}

func TestDefault(t *testing.T) {
	e := Default()

	tests := []struct {
		input string
		route route.Route
		rule  string
	}{
		{"Computer, 报告状态", route.Computer, "wake_word"},
		{"计算机", route.Computer, "wake_word"},
		{"退出计算机模式", route.Chat, "manual_exit"},
		{"进入计算机模式", route.Computer, "manual_enter"},
		{"扫描前方区域", route.Computer, "command_verb:扫描"},
		{"哈哈哈 扫描一下", route.Chat, "smalltalk_signal:哈哈"},
		{"讲个笑话吧", route.Chat, "smalltalk_signal:讲个笑话"},
		{"今天天气不错", route.Unknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			res := e.Classify(route.Normalize(tt.input))
			assert.Equal(t, tt.route, res.Route)
			assert.Equal(t, tt.rule, res.MatchedPattern)
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	e := Default()
	first := e.Classify("扫描前方区域")
	for i := 0; i < 100; i++ {
		require.Equal(t, first, e.Classify("扫描前方区域"))
	}
}

func BenchmarkClassify(b *testing.B) {
	e := Default()
	text := route.Normalize("今天天气不错，我们去哪里玩比较好呢")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Classify(text)
	}
}
