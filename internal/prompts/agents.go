package prompts

// Agent — именованный профиль генерации: модель и добавка к системному
// промпту. Выбирается настройкой selected_agent.
type Agent struct {
	Name   string
	Model  string
	System string // если непуст, идёт первым в системных инструкциях запроса
}

var registry = map[string]Agent{
	"default": {Name: "default", Model: "gpt-4o"},
	"fast":    {Name: "fast", Model: "gpt-4o-mini"},
	"coder": {
		Name:   "coder",
		Model:  "gpt-4o",
		System: "Prefer working code over prose. When the request is ambiguous, pick the simplest interpretation.",
	},
	"writer": {
		Name:   "writer",
		Model:  "gpt-4o",
		System: "You write fluent, natural prose. Vary sentence length. Avoid corporate filler.",
	},
}

// AgentByName возвращает агента; неизвестное имя падает на default.
func AgentByName(name string) Agent {
	if a, ok := registry[name]; ok {
		return a
	}
	return registry["default"]
}

// AgentNames перечисляет зарегистрированных агентов.
func AgentNames() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}

// EnvKeys — переменные окружения, которые читает реестр провайдеров.
// Хранилище ключей шифрует именно эти записи.
func EnvKeys() []string {
	return []string{
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_ORG_ID",
	}
}
