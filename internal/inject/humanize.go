package inject

import (
	"math/rand"
	"time"
)

// Модель «человеческой» печати: задержки из усечённого распределения вокруг
// ~55 мс с разбросом ±25 мс, редкие паузы-раздумья и опечатки с поправкой
// backspace — не чаще одной на 40 символов.

// StepKind — вид шага плана печати.
type StepKind int

const (
	StepChar StepKind = iota + 1
	StepTypo          // напечатать соседнюю клавишу и стереть её
)

// Step — один шаг плана: символ и пауза перед ним.
type Step struct {
	Kind  StepKind
	Char  rune
	Typo  rune // для StepTypo: ошибочный символ
	Delay time.Duration
}

// Соседние клавиши QWERTY для правдоподобных опечаток
var typoNeighbors = map[rune][]rune{
	'a': {'s', 'q', 'w'}, 'b': {'v', 'n', 'g'}, 'c': {'x', 'v', 'd'},
	'd': {'s', 'f', 'e'}, 'e': {'w', 'r', 'd'}, 'f': {'d', 'g', 'r'},
	'g': {'f', 'h', 't'}, 'h': {'g', 'j', 'y'}, 'i': {'u', 'o', 'k'},
	'j': {'h', 'k', 'u'}, 'k': {'j', 'l', 'i'}, 'l': {'k', 'o', 'p'},
	'm': {'n', 'j', 'k'}, 'n': {'b', 'm', 'h'}, 'o': {'i', 'p', 'l'},
	'p': {'o', 'l'}, 'q': {'w', 'a'}, 'r': {'e', 't', 'f'},
	's': {'a', 'd', 'w'}, 't': {'r', 'y', 'g'}, 'u': {'y', 'i', 'j'},
	'v': {'c', 'b', 'f'}, 'w': {'q', 'e', 's'}, 'x': {'z', 'c', 's'},
	'y': {'t', 'u', 'h'}, 'z': {'x', 'a'},
}

// Humanizer строит план печати. Источник случайности инжектируется, чтобы
// план был воспроизводим в тестах.
type Humanizer struct {
	rng *rand.Rand
}

func NewHumanizer(seed int64) *Humanizer {
	return &Humanizer{rng: rand.New(rand.NewSource(seed))}
}

// Delay возвращает паузу перед очередным символом.
func (h *Humanizer) Delay() time.Duration {
	base := 30 + h.rng.Intn(51) // 30..80 мс, центр ~55
	d := time.Duration(base) * time.Millisecond
	// редкая пауза-раздумье
	if h.rng.Float64() < 0.05 {
		d += time.Duration(200+h.rng.Intn(300)) * time.Millisecond
	}
	return d
}

// Plan раскладывает текст в последовательность шагов с задержками и опечатками.
func (h *Humanizer) Plan(text string) []Step {
	runes := []rune(text)
	steps := make([]Step, 0, len(runes))
	sinceTypo := 40 // первая опечатка возможна уже на первом символе
	for _, r := range runes {
		sinceTypo++
		if neighbors, ok := typoNeighbors[lowerASCII(r)]; ok && sinceTypo >= 40 && h.rng.Float64() < 0.02 {
			typo := neighbors[h.rng.Intn(len(neighbors))]
			if isUpperASCII(r) {
				typo = typo - 'a' + 'A'
			}
			steps = append(steps, Step{Kind: StepTypo, Char: r, Typo: typo, Delay: h.Delay()})
			sinceTypo = 0
			continue
		}
		steps = append(steps, Step{Kind: StepChar, Char: r, Delay: h.Delay()})
	}
	return steps
}

func lowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r - 'A' + 'a'
	}
	return r
}

func isUpperASCII(r rune) bool { return r >= 'A' && r <= 'Z' }
