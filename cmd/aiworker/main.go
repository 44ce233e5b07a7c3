// aiworker — долгоживущий дочерний процесс генерации. Говорит с демоном
// JSON-объектами по одному на строку через stdin/stdout (§ протокола в
// internal/worker) и ходит в провайдера через OpenAI Responses API.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/responses"
	"go.uber.org/zap"

	"TypingCopilot/internal/config"
	"TypingCopilot/internal/prompts"
	"TypingCopilot/internal/worker"
)

type app struct {
	client *openai.Client
	model  string
	logger *zap.SugaredLogger

	outMu sync.Mutex
	out   *json.Encoder

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	sugar := logger.Sugar()
	defer func() { _ = logger.Sync() }()

	a := &app{
		logger:  sugar,
		out:     json.NewEncoder(os.Stdout),
		cancels: map[string]context.CancelFunc{},
	}

	// Ключ берём из окружения (унаследован от демона вместе с хранилищем ключей)
	hasKey := config.IsSet(os.Getenv("OPENAI_API_KEY"))
	if hasKey {
		c := openai.NewClient()
		a.client = &c
	}
	a.model = os.Getenv("WORKER_MODEL")
	if a.model == "" {
		a.model = string(openai.ChatModelGPT4o)
	}

	a.emit(worker.WireEvent{Event: "started", Success: hasKey, PID: os.Getpid()})
	if !hasKey {
		a.emit(worker.WireEvent{Event: "error", Message: "OPENAI_API_KEY is not set"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var cmd worker.Command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			a.emit(worker.WireEvent{Event: "error", Message: fmt.Sprintf("invalid command: %s", line)})
			continue
		}
		switch cmd.Cmd {
		case "ping":
			a.emit(worker.WireEvent{Event: "pong"})
		case "generate":
			go a.generate(ctx, cmd)
		case "cancel":
			a.cancelRequest(cmd.ID)
		case "shutdown":
			return
		default:
			a.emit(worker.WireEvent{Event: "error", Message: fmt.Sprintf("unknown cmd %q", cmd.Cmd)})
		}
	}
}

func (a *app) emit(ev worker.WireEvent) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	_ = a.out.Encode(ev)
}

func (a *app) cancelRequest(id string) {
	a.mu.Lock()
	cancel := a.cancels[id]
	delete(a.cancels, id)
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *app) generate(parent context.Context, cmd worker.Command) {
	if a.client == nil {
		a.emit(worker.WireEvent{Event: "error", ID: cmd.ID, Message: "provider key is not configured"})
		return
	}

	ctx, cancel := context.WithCancel(parent)
	a.mu.Lock()
	a.cancels[cmd.ID] = cancel
	a.mu.Unlock()
	defer a.cancelRequest(cmd.ID)

	mode := cmd.Context[worker.CtxMode]
	agent := prompts.AgentByName(cmd.Context[worker.CtxAgent])
	params := a.buildParams(mode, cmd, agent)

	if !cmd.Streaming {
		resp, err := a.client.Responses.New(ctx, params)
		if err != nil {
			a.emit(worker.WireEvent{Event: "error", ID: cmd.ID, Message: err.Error()})
			return
		}
		a.emit(worker.WireEvent{Event: "complete", ID: cmd.ID, Text: prompts.Clean(resp.OutputText())})
		return
	}

	stream := a.client.Responses.NewStreaming(ctx, params)
	var full strings.Builder
	for stream.Next() {
		ev := stream.Current()
		if ev.Type == "response.output_text.delta" && ev.Delta != "" {
			full.WriteString(ev.Delta)
			a.emit(worker.WireEvent{Event: "chunk", ID: cmd.ID, Text: ev.Delta})
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			// отмена — не ошибка; демон уже выбросил сессию
			return
		}
		if full.Len() == 0 {
			a.emit(worker.WireEvent{Event: "error", ID: cmd.ID, Message: err.Error()})
			return
		}
		a.logger.Warnw("Stream interrupted, returning partial", "id", cmd.ID, "error", err)
	}

	// Финальный чанк пуст: все дельты уже ушли, демону важен только флаг final
	a.emit(worker.WireEvent{Event: "chunk", ID: cmd.ID, Text: "", Final: true})
}

// buildParams собирает запрос Responses API: системные сообщения уходят в
// Instructions, пользовательские — во входные items; vision добавляет картинку.
func (a *app) buildParams(mode string, cmd worker.Command, agent prompts.Agent) responses.ResponseNewParams {
	msgs := prompts.Build(mode, cmd.Prompt, cmd.Context)

	var instructions []string
	if agent.System != "" {
		instructions = append(instructions, agent.System)
	}
	var userTexts []string
	for _, m := range msgs {
		if m.Role == "system" {
			instructions = append(instructions, m.Content)
			continue
		}
		userTexts = append(userTexts, m.Content)
	}
	userText := strings.Join(userTexts, "\n\n")

	var userParts responses.ResponseInputMessageContentListParam
	if img := cmd.Context[worker.CtxImage]; img != "" {
		userParts = responses.ResponseInputMessageContentListParam{
			{
				OfInputText: &responses.ResponseInputTextParam{Text: userText},
			},
			{
				OfInputImage: &responses.ResponseInputImageParam{
					Detail:   responses.ResponseInputImageDetailAuto,
					ImageURL: openai.String("data:image/jpeg;base64," + img),
				},
			},
		}
	} else {
		userParts = responses.ResponseInputMessageContentListParam{
			{
				OfInputText: &responses.ResponseInputTextParam{Text: userText},
			},
		}
	}

	model := a.model
	if agent.Model != "" {
		model = agent.Model
	}

	params := responses.ResponseNewParams{
		Model: openai.ChatModel(model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(userParts, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if len(instructions) > 0 {
		params.Instructions = openai.String(strings.Join(instructions, "\n\n"))
	}
	return params
}
