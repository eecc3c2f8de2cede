package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"lawsim-backend/models"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
)

var (
	ErrChatConfig       = errors.New("chat provider misconfigured")
	ErrAnswerGeneration = errors.New("failed to generate answer")
)

const (
	arkChatAPI      = "https://ark.cn-beijing.volces.com/api/v3/chat/completions"
	defaultArkModel = "doubao-seed-1-6-250615"
	geminiChatModel = "gemini-2.0-flash"

	defaultChatTopK = 5
	maxAnswerChunks = 6
)

// noEvidenceAnswerText is the fixed refusal shown when retrieval found
// nothing citable for a free-text question. The model is not called in
// that case at all.
const noEvidenceAnswerText = "抱歉，当前知识库中没有检索到与你的问题直接相关的法律依据。为避免误导，我不给出确定结论，请换一种问法或补充案情细节。"

const answerSystemPrompt = `你是一个法律咨询助手。你只能依据给出的法律条文片段回答，不允许编造法条或引用未提供的内容。
请严格输出一个 JSON 对象，不要输出其他任何文字，字段如下：
{"conclusion": "一句话结论", "analysis": ["分析要点1", "分析要点2"], "actions": ["建议行动1"], "citations": ["引用的chunk_id"], "assumptions": ["你做出的假设"], "follow_up_questions": ["需要用户补充的问题"], "emotion": "calm|serious|supportive|warning"}
citations 只能填提供片段中出现的 chunk_id。`

// LLMProvider generates a model completion for a system+user prompt pair.
type LLMProvider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// NewLLMProviderFromEnv selects the chat model backend via LLM_PROVIDER
// (mock, ark or gemini). The genai client is only required for gemini.
func NewLLMProviderFromEnv(geminiClient *genai.Client) (LLMProvider, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	switch provider {
	case "", "mock":
		return &MockLLM{}, nil
	case "ark":
		apiKey := os.Getenv("ARK_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("%w: ARK_API_KEY not set", ErrChatConfig)
		}
		model := os.Getenv("ARK_MODEL")
		if model == "" {
			model = defaultArkModel
		}
		return &ArkLLM{
			apiKey:  apiKey,
			model:   model,
			client:  &http.Client{Timeout: 60 * time.Second},
			backoff: DefaultBackoff(),
		}, nil
	case "gemini":
		if geminiClient == nil {
			return nil, fmt.Errorf("%w: gemini selected but client not initialized", ErrChatConfig)
		}
		return &GeminiLLM{client: geminiClient, model: geminiChatModel, backoff: DefaultBackoff()}, nil
	default:
		return nil, fmt.Errorf("%w: unknown LLM_PROVIDER %q", ErrChatConfig, provider)
	}
}

// MockLLM answers deterministically without the network. It cites the
// chunk ids present in the prompt, which makes grounding behavior fully
// testable offline.
type MockLLM struct{}

func (m *MockLLM) Complete(_ context.Context, _ string, user string) (string, error) {
	answer := models.RawAnswer{
		Conclusion:        "根据检索到的条文，你的主张有初步法律依据。",
		Analysis:          []string{"以下结论仅基于检索到的条文片段。", "请结合自身证据情况进一步核实。"},
		Actions:           []string{"整理并保存相关证据", "按条文指引主张权利"},
		Citations:         promptChunkIDs(user),
		Assumptions:       []string{"假设你描述的事实基本属实"},
		FollowUpQuestions: []string{"是否还有其他书面证据？"},
		Emotion:           models.EmotionCalm,
	}
	data, err := json.Marshal(answer)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// promptChunkIDs pulls the [chunk_id] markers the prompt builder embeds.
func promptChunkIDs(prompt string) []string {
	var ids []string
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") {
			continue
		}
		end := strings.Index(line, "]")
		if end <= 1 {
			continue
		}
		ids = append(ids, line[1:end])
	}
	return ids
}

// ArkLLM calls the Volcengine Ark chat completion API.
type ArkLLM struct {
	apiKey  string
	model   string
	client  *http.Client
	backoff BackoffPolicy
}

type arkChatRequest struct {
	Model       string           `json:"model"`
	Messages    []arkChatMessage `json:"messages"`
	Temperature float64          `json:"temperature"`
}

type arkChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type arkChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
}

func (a *ArkLLM) Complete(ctx context.Context, system, user string) (string, error) {
	reqBody := arkChatRequest{
		Model: a.model,
		Messages: []arkChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.2,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var content string
	err = a.backoff.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", arkChatAPI, bytes.NewBuffer(jsonData))
		if err != nil {
			return Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.apiKey)

		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			apiErr := fmt.Errorf("API error: %d - %s", resp.StatusCode, string(bodyBytes))
			if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
				return Permanent(apiErr)
			}
			return apiErr
		}

		var apiResp arkChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if apiResp.Error.Message != "" {
			return Permanent(fmt.Errorf("API error: %s", apiResp.Error.Message))
		}
		if len(apiResp.Choices) == 0 {
			return errors.New("API returned no choices")
		}
		content = apiResp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", ErrAnswerGeneration
	}
	return content, nil
}

// GeminiLLM generates answers through the official Gemini SDK client.
type GeminiLLM struct {
	client  *genai.Client
	model   string
	backoff BackoffPolicy
}

func (g *GeminiLLM) Complete(ctx context.Context, system, user string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	temperature := float32(0.2)
	model.Temperature = &temperature

	var content string
	err := g.backoff.Do(ctx, func() error {
		resp, err := model.GenerateContent(ctx, genai.Text(user))
		if err != nil {
			return err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return errors.New("API returned no candidates")
		}
		var builder strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				builder.WriteString(string(text))
			}
		}
		content = builder.String()
		return nil
	})
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", ErrAnswerGeneration
	}
	return content, nil
}

// ChatService answers free-text legal questions with retrieved statutes.
// Every answer passes the grounding guard before it reaches the caller.
type ChatService struct {
	retriever Retriever
	guard     *GroundingGuard
	llm       LLMProvider
	topK      int
}

// ChatServiceOption is a functional option for ChatService
type ChatServiceOption func(*ChatService)

// ChatWithRetriever sets the evidence retriever
func ChatWithRetriever(retriever Retriever) ChatServiceOption {
	return func(s *ChatService) {
		s.retriever = retriever
	}
}

// ChatWithLLM sets the language model provider
func ChatWithLLM(llm LLMProvider) ChatServiceOption {
	return func(s *ChatService) {
		s.llm = llm
	}
}

// ChatWithTopK sets how many chunks are retrieved per question
func ChatWithTopK(topK int) ChatServiceOption {
	return func(s *ChatService) {
		s.topK = topK
	}
}

// NewChatService creates a new chat service
func NewChatService(opts ...ChatServiceOption) *ChatService {
	s := &ChatService{
		guard: NewGroundingGuard(),
		topK:  defaultChatTopK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Answer runs one retrieval-grounded chat turn. Retrieval failure and
// empty retrieval both produce the no-evidence refusal rather than an
// error: the turn always succeeds from the caller's point of view.
func (s *ChatService) Answer(ctx context.Context, sessionID, message string) (*models.ChatResponse, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrInvalidInput
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = "chat_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	retrieved, err := s.retriever.Search(ctx, message, s.topK)
	if err != nil {
		if !errors.Is(err, ErrRetrievalUnavailable) {
			return nil, err
		}
		log.Printf("Warning: chat retrieval failed: %v. Answering without evidence.", err)
		retrieved = nil
	}

	if len(retrieved) == 0 {
		verdict := s.guard.Decide(retrieved, nil, models.EmotionSerious)
		answer := models.AnswerJSON{
			Conclusion:        noEvidenceAnswerText,
			Analysis:          []string{},
			Actions:           []string{"补充案情细节", "换一种问法再试"},
			Citations:         verdict.Citations,
			Assumptions:       []string{},
			FollowUpQuestions: []string{"能补充时间、金额、合同等关键细节吗？"},
			Emotion:           verdict.Emotion,
		}
		return &models.ChatResponse{
			SessionID:        sessionID,
			Text:             noEvidenceAnswerText,
			Answer:           answer,
			Citations:        verdict.Citations,
			Emotion:          verdict.Emotion,
			NoEvidenceReject: !verdict.MayAssertConclusion,
		}, nil
	}

	raw, err := s.generateAnswer(ctx, message, retrieved)
	if err != nil {
		log.Printf("Warning: answer generation failed: %v. Falling back to retrieved excerpts.", err)
		raw = fallbackAnswer(retrieved)
	}

	verdict := s.guard.Decide(retrieved, raw.Citations, raw.Emotion)
	answer := models.AnswerJSON{
		Conclusion:        raw.Conclusion,
		Analysis:          emptyIfNil(raw.Analysis),
		Actions:           emptyIfNil(raw.Actions),
		Citations:         verdict.Citations,
		Assumptions:       emptyIfNil(raw.Assumptions),
		FollowUpQuestions: emptyIfNil(raw.FollowUpQuestions),
		Emotion:           verdict.Emotion,
	}

	return &models.ChatResponse{
		SessionID:        sessionID,
		Text:             composeAnswerText(answer),
		Answer:           answer,
		Citations:        verdict.Citations,
		Emotion:          verdict.Emotion,
		NoEvidenceReject: !verdict.MayAssertConclusion,
	}, nil
}

func (s *ChatService) generateAnswer(ctx context.Context, message string, retrieved []models.RetrievedChunk) (*models.RawAnswer, error) {
	prompt := buildAnswerPrompt(message, retrieved)
	completion, err := s.llm.Complete(ctx, answerSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnswerGeneration, err)
	}
	return parseRawAnswer(completion)
}

func buildAnswerPrompt(message string, retrieved []models.RetrievedChunk) string {
	var builder strings.Builder
	builder.WriteString("可引用的法律条文片段：\n")
	for i, chunk := range retrieved {
		if i == maxAnswerChunks {
			break
		}
		builder.WriteString(fmt.Sprintf("[%s] %s %s %s\n%s\n\n",
			chunk.ChunkID,
			deref(chunk.LawName),
			deref(chunk.ArticleNo),
			deref(chunk.Section),
			leadingRunes(chunk.Text, textMatchWindow)))
	}
	builder.WriteString("用户问题：")
	builder.WriteString(message)
	return builder.String()
}

// parseRawAnswer decodes the model's JSON answer, tolerating markdown
// code fences around the object.
func parseRawAnswer(completion string) (*models.RawAnswer, error) {
	cleaned := strings.TrimSpace(completion)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var raw models.RawAnswer
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid answer JSON: %v", ErrAnswerGeneration, err)
	}
	if raw.Conclusion == "" {
		return nil, fmt.Errorf("%w: answer missing conclusion", ErrAnswerGeneration)
	}
	return &raw, nil
}

// fallbackAnswer is used when the model call or its JSON fail: present
// the retrieved excerpts themselves, with no firm conclusion beyond
// pointing at them.
func fallbackAnswer(retrieved []models.RetrievedChunk) *models.RawAnswer {
	ids := make([]string, 0, defaultCitationCount)
	for _, chunk := range retrieved {
		if len(ids) == defaultCitationCount {
			break
		}
		ids = append(ids, chunk.ChunkID)
	}
	return &models.RawAnswer{
		Conclusion:  "已为你找到相关法律条文，请参考下列引用原文。",
		Analysis:    []string{"自动生成的分析暂不可用，以下引用为检索到的原始条文。"},
		Actions:     []string{"阅读引用条文", "如需进一步分析请重试"},
		Citations:   ids,
		Assumptions: []string{},
		Emotion:     models.EmotionCalm,
	}
}

func composeAnswerText(answer models.AnswerJSON) string {
	var builder strings.Builder
	builder.WriteString(answer.Conclusion)
	for _, point := range answer.Analysis {
		builder.WriteString("\n")
		builder.WriteString(point)
	}
	if len(answer.Actions) > 0 {
		builder.WriteString("\n建议：")
		builder.WriteString(strings.Join(answer.Actions, "；"))
	}
	return builder.String()
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
