// injector — дочерний процесс «удалить N символов и напечатать замену».
// Вызов: injector <escaped_text> [--backspace N] [--humanize] [--tab-spaces N]
// Текст экранирован алфавитом \\ \n \r \t; любая другая \x-последовательность
// отклоняется. Код выхода 0 — успех, не ноль — отказ с причиной в stderr.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"TypingCopilot/internal/inject"
)

func main() {
	text, backspaces, humanize, tabSpaces, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	typer := inject.NewTyper(tabSpaces, inject.NewHumanizer(time.Now().UnixNano()))

	// все backspace уходят до первого символа замены
	if err := typer.Backspaces(backspaces); err != nil {
		fmt.Fprintf(os.Stderr, "backspace synthesis failed: %v\n", err)
		os.Exit(1)
	}
	if err := typer.TypeText(text, humanize); err != nil {
		fmt.Fprintf(os.Stderr, "key synthesis failed: %v\n", err)
		os.Exit(1)
	}
}

// parseArgs разбирает argv вручную: позиционный текст может стоять до флагов.
func parseArgs(args []string) (text string, backspaces int, humanize bool, tabSpaces int, err error) {
	haveText := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--backspace":
			i++
			if i >= len(args) {
				return "", 0, false, 0, fmt.Errorf("--backspace requires a number")
			}
			backspaces, err = strconv.Atoi(args[i])
			if err != nil || backspaces < 0 {
				return "", 0, false, 0, fmt.Errorf("bad --backspace value %q", args[i])
			}
		case "--humanize":
			humanize = true
		case "--tab-spaces":
			i++
			if i >= len(args) {
				return "", 0, false, 0, fmt.Errorf("--tab-spaces requires a number")
			}
			tabSpaces, err = strconv.Atoi(args[i])
			if err != nil || tabSpaces < 0 {
				return "", 0, false, 0, fmt.Errorf("bad --tab-spaces value %q", args[i])
			}
		default:
			if haveText {
				return "", 0, false, 0, fmt.Errorf("unexpected argument %q", args[i])
			}
			text, err = inject.Unescape(args[i])
			if err != nil {
				return "", 0, false, 0, err
			}
			haveText = true
		}
	}
	if !haveText {
		return "", 0, false, 0, fmt.Errorf("usage: injector <escaped_text> [--backspace N] [--humanize]")
	}
	return text, backspaces, humanize, tabSpaces, nil
}
