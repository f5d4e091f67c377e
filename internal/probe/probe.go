// Package probe sends benchmark requests to model endpoints and measures
// their latency and time to first token.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"llmstreambench/internal/catalog"
	"llmstreambench/internal/logging"
	"llmstreambench/internal/summary"
)

const systemPrompt = "You are a helpful assistant."

// Request describes the requests sent to one model.
type Request struct {
	Model       catalog.Model
	Question    string
	MaxTokens   *int
	Temperature *float64
	Stream      bool
	Concurrency int
	Iterations  int
}

// Total is the number of requests the model receives.
func (r Request) Total() int { return max(1, r.Concurrency) * max(1, r.Iterations) }

// ChunkFunc receives each streamed content fragment.
type ChunkFunc func(model string, requestID int, chunk string)

// DoneFunc receives each request's record as soon as it finishes.
type DoneFunc func(rec summary.Record)

// Prober runs requests against model endpoints.
type Prober struct {
	// Timeout bounds each request; zero means no limit.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Run sends Concurrency x Iterations requests to the model with at most
// Concurrency in flight and returns the records ordered by request id. A
// request failure is recorded, not returned; Run only fails when ctx is
// cancelled before every request finished.
func (p *Prober) Run(ctx context.Context, req Request, onChunk ChunkFunc, onDone DoneFunc) ([]summary.Record, error) {
	client := p.client(req.Model)
	log := logging.OrDiscard(p.Logger).WithContext(&logging.LogContext{Model: req.Model.Name, Operation: "probe"})

	total := req.Total()
	sem := make(chan struct{}, max(1, req.Concurrency))
	records := make([]summary.Record, 0, total)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			log.Debug("Request #%d: POST (stream=%t, completions=%t)", id, req.Stream, req.Model.UsesCompletions())
			rec := p.single(ctx, client, req, id, onChunk)
			if rec.Failed() {
				log.Warn("Request #%d failed: %s", id, rec.Err)
			}

			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			if onDone != nil {
				onDone(rec)
			}
		}(i)
	}
	wg.Wait()

	sort.Slice(records, func(a, b int) bool { return records[a].RequestID < records[b].RequestID })
	if err := ctx.Err(); err != nil {
		return records, fmt.Errorf("probe %s: %w", req.Model.Name, err)
	}
	return records, nil
}

// client builds an Azure client when the endpoint is an Azure resource and
// an OpenAI-compatible one otherwise.
func (p *Prober) client(m catalog.Model) *openai.Client {
	var cfg openai.ClientConfig
	if isAzure(m.Endpoint) {
		cfg = openai.DefaultAzureConfig(m.APIKey, m.Endpoint)
		if m.APIVersion != "" {
			cfg.APIVersion = m.APIVersion
		}
		cfg.AzureModelMapperFunc = func(model string) string { return model }
	} else {
		cfg = openai.DefaultConfig(m.APIKey)
		cfg.BaseURL = normalizeBaseURL(m.Endpoint)
	}
	if p.HTTPClient != nil {
		cfg.HTTPClient = p.HTTPClient
	}
	return openai.NewClientWithConfig(cfg)
}

func isAzure(endpoint string) bool {
	e := strings.ToLower(endpoint)
	return strings.Contains(e, ".openai.azure.com") ||
		strings.Contains(e, ".cognitiveservices.azure.com") ||
		strings.Contains(e, ".services.ai.azure.com")
}

// normalizeBaseURL appends the /v1 path Cloud Foundry GenAI proxies need.
func normalizeBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if !strings.Contains(base, "genai-proxy") || strings.Contains(base, "/v1") {
		return base
	}
	if strings.HasSuffix(base, "/openai") {
		return base + "/v1"
	}
	if strings.Contains(base, "tanzu-") {
		return base + "/openai/v1"
	}
	return base
}

type attempt struct {
	started    time.Time
	firstToken time.Time
	text       strings.Builder
	prompt     int
	completion int
}

func (a *attempt) content(delta string) {
	if delta == "" {
		return
	}
	if a.firstToken.IsZero() {
		a.firstToken = time.Now()
	}
	a.text.WriteString(delta)
}

func (p *Prober) single(ctx context.Context, client *openai.Client, req Request, id int, onChunk ChunkFunc) summary.Record {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	a := &attempt{started: time.Now()}
	emit := func(delta string) {
		a.content(delta)
		if delta != "" && onChunk != nil {
			onChunk(req.Model.Name, id, delta)
		}
	}

	var err error
	switch {
	case req.Model.UsesCompletions() && req.Stream:
		err = p.completionStream(ctx, client, req, emit)
	case req.Model.UsesCompletions():
		err = p.completion(ctx, client, req, a)
	case req.Stream:
		err = p.chatStream(ctx, client, req, a, emit)
	default:
		err = p.chat(ctx, client, req, a)
	}

	rec := summary.Record{
		Model:            req.Model.Name,
		RequestID:        id,
		LatencyMs:        msSince(a.started, time.Now()),
		PromptTokens:     a.prompt,
		CompletionTokens: a.completion,
		Response:         a.text.String(),
	}
	if err != nil {
		rec.Err = describe(err)
		return rec
	}
	if req.Stream && !a.firstToken.IsZero() {
		ft := msSince(a.started, a.firstToken)
		rec.FirstTokenMs = &ft
	}
	return rec
}

func (p *Prober) chatRequest(req Request) openai.ChatCompletionRequest {
	r := openai.ChatCompletionRequest{
		Model: req.Model.Name,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Question},
		},
		Stream: req.Stream,
	}
	if req.MaxTokens != nil {
		r.MaxCompletionTokens = *req.MaxTokens
	}
	if t := temperature(req); t != nil {
		r.Temperature = float32(*t)
	}
	if req.Stream {
		r.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return r
}

func (p *Prober) chatStream(ctx context.Context, client *openai.Client, req Request, a *attempt, emit func(string)) error {
	stream, err := client.CreateChatCompletionStream(ctx, p.chatRequest(req))
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream error: %w", err)
		}
		if len(resp.Choices) > 0 {
			emit(resp.Choices[0].Delta.Content)
		}
		if resp.Usage != nil {
			a.prompt = resp.Usage.PromptTokens
			a.completion = resp.Usage.CompletionTokens
		}
	}
}

func (p *Prober) chat(ctx context.Context, client *openai.Client, req Request, a *attempt) error {
	resp, err := client.CreateChatCompletion(ctx, p.chatRequest(req))
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return errors.New("no choices in response")
	}
	a.text.WriteString(resp.Choices[0].Message.Content)
	a.prompt = resp.Usage.PromptTokens
	a.completion = resp.Usage.CompletionTokens
	return nil
}

func (p *Prober) completionRequest(req Request) openai.CompletionRequest {
	r := openai.CompletionRequest{
		Model:  req.Model.Name,
		Prompt: req.Question,
		Stream: req.Stream,
	}
	if req.MaxTokens != nil {
		r.MaxTokens = *req.MaxTokens
	}
	if t := temperature(req); t != nil {
		r.Temperature = float32(*t)
	}
	return r
}

func (p *Prober) completionStream(ctx context.Context, client *openai.Client, req Request, emit func(string)) error {
	stream, err := client.CreateCompletionStream(ctx, p.completionRequest(req))
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream error: %w", err)
		}
		if len(resp.Choices) > 0 {
			emit(resp.Choices[0].Text)
		}
	}
}

func (p *Prober) completion(ctx context.Context, client *openai.Client, req Request, a *attempt) error {
	resp, err := client.CreateCompletion(ctx, p.completionRequest(req))
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return errors.New("no choices in response")
	}
	a.text.WriteString(resp.Choices[0].Text)
	return nil
}

// temperature applies the model's forced value, if any.
func temperature(req Request) *float64 {
	if t := req.Model.Overrides().Temperature; t != nil {
		return t
	}
	return req.Temperature
}

// describe flattens API errors to "HTTP <status>: <message>".
func describe(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %v", reqErr.HTTPStatusCode, reqErr.Err)
	}
	return err.Error()
}

func msSince(from, to time.Time) float64 {
	return float64(to.Sub(from)) / float64(time.Millisecond)
}
