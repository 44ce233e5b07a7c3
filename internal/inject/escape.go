package inject

import (
	"errors"
	"fmt"
	"strings"
)

// Алфавит экранирования канала инжектора зафиксирован: \\ \n \r \t.
// Любая другая \x-последовательность — ошибка, а не «как получится».

// Escape кодирует текст для передачи инжектору одним аргументом.
func Escape(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Unescape — левый обратный к Escape. Неизвестные последовательности отклоняются.
func Unescape(text string) (string, error) {
	var b strings.Builder
	b.Grow(len(text))
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if i+1 >= len(runes) {
			return "", errors.New("inject: dangling backslash")
		}
		i++
		switch runes[i] {
		case '\\':
			b.WriteRune('\\')
		case 'n':
			b.WriteRune('\n')
		case 'r':
			b.WriteRune('\r')
		case 't':
			b.WriteRune('\t')
		default:
			return "", fmt.Errorf("inject: unknown escape \\%c", runes[i])
		}
	}
	return b.String(), nil
}

// NormalizeIndent готовит текст к печати: ведущие пробелы каждой строки
// снимаются (активный редактор сам сделает автоотступ на Enter), пустые
// строки в начале и в конце отрезаются. Вызывается ровно один раз на сессию.
func NormalizeIndent(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimLeft(line, " \t")
	}
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	end := len(lines)
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}
