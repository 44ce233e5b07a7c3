package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TypingCopilot/internal/worker"
)

func TestBuildGrammarFix(t *testing.T) {
	msgs := Build("grammar_fix", "this are wrong", nil)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "autocorrect")
	assert.Equal(t, "this are wrong", msgs[1].Content)
}

func TestBuildExtendCarriesLastOutput(t *testing.T) {
	msgs := Build("extend", "original text", map[string]string{worker.CtxLastOutput: "Hello"})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "PREVIOUS TEXT:\nHello")
	assert.Contains(t, msgs[0].Content, "ORIGINAL CONTEXT:\noriginal text")
}

func TestBuildClipboardWithInstruction(t *testing.T) {
	msgs := Build("clipboard_with_instruction", "def add(a,b): return a+b",
		map[string]string{worker.CtxInstruction: "explain briefly"})
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "CONTENT:\ndef add(a,b): return a+b")
	assert.Contains(t, msgs[1].Content, "INSTRUCTION: explain briefly")
}

func TestBuildExplanationCarriesCode(t *testing.T) {
	msgs := Build("explanation", "two sum", map[string]string{worker.CtxCode: "func TwoSum(...)"})
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "CODE:\nfunc TwoSum(...)")
}

func TestBuildFreePromptToneFallback(t *testing.T) {
	msgs := Build("free_prompt", "write a note", map[string]string{worker.CtxTone: "nonexistent"})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "TONE: professional")
}

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"code fence", "```go\nfunc main() {}\n```", "func main() {}"},
		{"preamble", "Sure! Here's the answer: 42", "42"},
		{"bold and bullets", "**Key** points:\n- one\n- two", "Key points:\none\ntwo"},
		{"trailer", "Answer.\nHope this helps!", "Answer."},
		{"inline code", "use `fmt.Println` here", "use fmt.Println here"},
		{"plain survives", "Hello", "Hello"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestAgentByNameFallsBack(t *testing.T) {
	assert.Equal(t, "default", AgentByName("missing").Name)
	assert.Equal(t, "coder", AgentByName("coder").Name)
}

func TestEnvKeysIncludeProviderKey(t *testing.T) {
	joined := strings.Join(EnvKeys(), ",")
	assert.Contains(t, joined, "OPENAI_API_KEY")
}
