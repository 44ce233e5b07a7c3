// Package prompts собирает сообщения для провайдера по режиму генерации
// и агрессивно чистит ответ от markdown и преамбул.
package prompts

import (
	"fmt"
	"regexp"
	"strings"

	"TypingCopilot/internal/worker"
)

// Message — одно сообщение диалога провайдера.
type Message struct {
	Role    string // system|user
	Content string
}

var toneInstructions = map[string]string{
	"professional": "Use formal, respectful, and business-appropriate language.",
	"casual":       "Use friendly, relaxed, and conversational language.",
	"friendly":     "Use warm, approachable, and positive language.",
	"formal":       "Use very formal, official language.",
	"creative":     "Use expressive, engaging, and imaginative language.",
	"technical":    "Use precise, clear, and jargon-appropriate language.",
	"persuasive":   "Use compelling, convincing language.",
	"concise":      "Use brief, direct, and to-the-point language.",
	"neutral":      "Use plain, neutral language.",
}

// Build возвращает сообщения для запроса в порядке отправки.
func Build(mode, prompt string, ctx map[string]string) []Message {
	get := func(key string) string {
		if ctx == nil {
			return ""
		}
		return ctx[key]
	}

	switch mode {
	case "grammar_fix":
		return []Message{
			{Role: "system", Content: "You are an autocorrect tool. You ONLY fix spelling and grammar. You output ONLY the corrected text. No explanations. No preambles. No extra words. Just the fixed text."},
			{Role: "user", Content: prompt},
		}

	case "extend":
		structured := fmt.Sprintf(`You are a writing assistant. Continue writing from where the text left off.

PREVIOUS TEXT:
%s

ORIGINAL CONTEXT:
%s

INSTRUCTIONS:
1. Continue writing naturally from where the previous text ended
2. Maintain the same tone, style, and voice
3. Add 1-2 more sentences that flow naturally
4. Keep the continuation relevant to the context
5. Don't repeat what was already said

IMPORTANT:
- Output ONLY the continuation (new text to append)
- Do NOT repeat the previous text
- Do NOT include explanations
- Make it flow naturally as if it's one continuous piece`, get(worker.CtxLastOutput), prompt)
		return []Message{{Role: "user", Content: structured}}

	case "clipboard_with_instruction":
		return []Message{
			{Role: "system", Content: `You follow the user's INSTRUCTION to process the CONTENT. Output ONLY the result with NO preambles, NO explanations.

RULES:
- Follow the instruction exactly
- Output only the requested content
- No "Here's..." or "Sure..." introductions
- Start directly with the output`},
			{Role: "user", Content: fmt.Sprintf("CONTENT:\n%s\n\nINSTRUCTION: %s", prompt, get(worker.CtxInstruction))},
		}

	case "clipboard":
		return []Message{
			{Role: "system", Content: `You respond to clipboard content with NO preambles, NO explanations. Output ONLY the response.

RULES:
- CODE: Output only code. No "Here's the code" or explanations. Just the code with proper indentation.
- EMAIL/MESSAGE: Output only the reply text. No "Here's a reply" intro.
- QUESTION: Output only the answer. No "The answer is" intro.
- Start directly with the content. No introductions.`},
			{Role: "user", Content: prompt},
		}

	case "explanation":
		return []Message{
			{Role: "system", Content: "You explain code briefly for a reader in a hurry. 3-5 short sentences: what it does, the approach, and the complexity if relevant. No markdown, no code blocks."},
			{Role: "user", Content: fmt.Sprintf("TASK:\n%s\n\nCODE:\n%s", prompt, get(worker.CtxCode))},
		}

	case "vision":
		instruction := get(worker.CtxInstruction)
		if strings.TrimSpace(instruction) == "" {
			instruction = "Describe what is on the screen and answer the visible question if there is one."
		}
		return []Message{
			{Role: "system", Content: "You answer questions about a screenshot. Output ONLY the answer text, no preambles, no markdown."},
			{Role: "user", Content: instruction},
		}

	default: // free_prompt
		tone := strings.ToLower(get(worker.CtxTone))
		guide, ok := toneInstructions[tone]
		if !ok {
			tone = "professional"
			guide = toneInstructions[tone]
		}
		structured := fmt.Sprintf(`You are a versatile text assistant. Generate well-structured text content.

USER REQUEST: %s

TONE: %s
TONE INSTRUCTIONS: %s

IMPORTANT:
- Generate ONLY the text body/content
- Do NOT include titles, headers, or subject lines unless requested
- No explanations or meta-commentary
- Start directly with the content
- Output should be ready to use as-is`, prompt, tone, guide)
		return []Message{{Role: "user", Content: structured}}
	}
}

// Очистка ответа: провайдеры любят преамбулы и markdown даже под запретом

var (
	reCodeFence  = regexp.MustCompile("```[\\w]*\\n?")
	reInlineCode = regexp.MustCompile("`([^`]+)`")
	reBold       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	reItalic     = regexp.MustCompile(`\*([^*]+)\*`)
	reUnderBold  = regexp.MustCompile(`__([^_]+)__`)
	reUnder      = regexp.MustCompile(`_([^_]+)_`)
	reBullet     = regexp.MustCompile(`(?m)^[\s]*[-*•]\s+`)
	reNumbered   = regexp.MustCompile(`(?m)^[\s]*\d+\.\s+`)
	reHeader     = regexp.MustCompile(`(?m)^#+\s+`)
	reManyBlank  = regexp.MustCompile(`\n{3,}`)

	rePreambles []*regexp.Regexp
	reTrailers  []*regexp.Regexp
)

func init() {
	for _, p := range []string{
		`^Sure[,!]?\s*`,
		`^Certainly[,!]?\s*`,
		`^Of course[,!]?\s*`,
		`^Absolutely[,!]?\s*`,
		`^Great question[,!]?\s*`,
		`^Good question[,!]?\s*`,
		`^Well[,]?\s+`,
		`^Here'?s?\s+(the\s+)?(answer|explanation|solution|code)[:\s]*`,
		`^Here\s+is\s+(the\s+)?(answer|explanation|solution|code)[:\s]*`,
		`^The\s+answer\s+is[:\s]*`,
		`^In\s+short[,:\s]*`,
		`^Basically[,:\s]*`,
	} {
		rePreambles = append(rePreambles, regexp.MustCompile(`(?i)`+p))
	}
	for _, p := range []string{
		`\s*Let me know if[^\n]*$`,
		`\s*Hope this helps[^\n]*$`,
		`\s*Feel free to[^\n]*$`,
		`\s*Is there anything[^\n]*$`,
	} {
		reTrailers = append(reTrailers, regexp.MustCompile(`(?is)`+p))
	}
}

// Clean снимает markdown, преамбулы и вежливые хвосты.
func Clean(text string) string {
	if text == "" {
		return text
	}
	text = reCodeFence.ReplaceAllString(text, "")
	text = reInlineCode.ReplaceAllString(text, "$1")
	text = reBold.ReplaceAllString(text, "$1")
	text = reItalic.ReplaceAllString(text, "$1")
	text = reUnderBold.ReplaceAllString(text, "$1")
	text = reUnder.ReplaceAllString(text, "$1")
	text = reBullet.ReplaceAllString(text, "")
	text = reNumbered.ReplaceAllString(text, "")
	text = reHeader.ReplaceAllString(text, "")
	for _, re := range rePreambles {
		text = re.ReplaceAllString(text, "")
	}
	for _, re := range reTrailers {
		text = re.ReplaceAllString(text, "")
	}
	text = reManyBlank.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
