package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	ErrMissingCredential = errors.New("assistant service credential is not configured: set ARK_API_KEY or ARK_ACCESS_KEY + ARK_SECRET_KEY")
	ErrMissingModel      = errors.New("assistant model is not configured: set ARK_MODEL")
	ErrNoDocuments       = errors.New("no knowledge documents configured: set KNOWLEDGE_DOCUMENTS")
	ErrEmbeddingAPIKey   = errors.New("ARK_EMBEDDING_MODEL requires ARK_API_KEY")
)

const (
	defaultAssistantName   = "MyFileAssistant"
	defaultInstructions    = "You are a helpful assistant that uses uploaded files to answer questions about Vector DB."
	defaultRunInstructions = "You are an AI assistant helping users understand document contents."
	defaultCollectionName  = "EDSglobal"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Assistant AssistantConfig
	Knowledge KnowledgeConfig
	Session   SessionConfig
	Log       LogConfig
}

// Load 从环境变量加载配置。缺少凭证或文档时立即失败。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}
	if err := ai.Validate(); err != nil {
		return nil, err
	}

	knowledge, err := loadKnowledgeConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		Assistant: loadAssistantConfig(),
		Knowledge: knowledge,
		Session:   session,
		Log:       loadLogConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	// EmbeddingModel 为空时检索退化为关键词匹配。
	EmbeddingModel string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
}

// HasCredential 表示是否提供了必需的密钥。
func (c AIConfig) HasCredential() bool {
	return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
}

// Validate 检查凭证与模型是否齐全。
func (c AIConfig) Validate() error {
	if !c.HasCredential() {
		return ErrMissingCredential
	}
	if c.Model == "" {
		return ErrMissingModel
	}
	if c.EmbeddingModel != "" && c.APIKey == "" {
		return ErrEmbeddingAPIKey
	}
	return nil
}

// NewEmbedder 通过 Ark 的 OpenAI 兼容接口创建向量模型。未配置 ARK_EMBEDDING_MODEL 时返回 nil。
func (c AIConfig) NewEmbedder() (embeddings.Embedder, error) {
	if c.EmbeddingModel == "" {
		return nil, nil
	}
	if c.APIKey == "" {
		return nil, ErrEmbeddingAPIKey
	}

	llm, err := openai.New(
		openai.WithToken(c.APIKey),
		openai.WithBaseURL(c.BaseURL),
		openai.WithEmbeddingModel(c.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return embedder, nil
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		EmbeddingModel: strings.TrimSpace(os.Getenv("ARK_EMBEDDING_MODEL")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
	}, nil
}

// AssistantConfig 描述注册到助手服务的配置。
type AssistantConfig struct {
	Name            string
	Instructions    string
	RunInstructions string
}

func loadAssistantConfig() AssistantConfig {
	return AssistantConfig{
		Name:            getEnvOrDefault("ASSISTANT_NAME", defaultAssistantName),
		Instructions:    getEnvOrDefault("ASSISTANT_INSTRUCTIONS", defaultInstructions),
		RunInstructions: getEnvOrDefault("RUN_INSTRUCTIONS", defaultRunInstructions),
	}
}

// KnowledgeConfig 描述知识库集合与切分、检索参数。
type KnowledgeConfig struct {
	CollectionName string
	Documents      []string
	ChunkSize      int
	ChunkOverlap   int
	TopK           int
}

func loadKnowledgeConfig() (KnowledgeConfig, error) {
	documents := parseListEnv("KNOWLEDGE_DOCUMENTS")
	if len(documents) == 0 {
		return KnowledgeConfig{}, ErrNoDocuments
	}

	chunkSize, err := parseIntEnvOrDefault("CHUNK_SIZE", 1000)
	if err != nil {
		return KnowledgeConfig{}, err
	}
	chunkOverlap, err := parseIntEnvOrDefault("CHUNK_OVERLAP", 200)
	if err != nil {
		return KnowledgeConfig{}, err
	}
	if chunkSize < 1 || chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return KnowledgeConfig{}, fmt.Errorf("invalid chunking: CHUNK_SIZE=%d CHUNK_OVERLAP=%d", chunkSize, chunkOverlap)
	}

	topK, err := parseIntEnvOrDefault("RETRIEVAL_TOP_K", 4)
	if err != nil {
		return KnowledgeConfig{}, err
	}
	if topK < 1 {
		topK = 1
	}

	return KnowledgeConfig{
		CollectionName: getEnvOrDefault("KNOWLEDGE_COLLECTION", defaultCollectionName),
		Documents:      documents,
		ChunkSize:      chunkSize,
		ChunkOverlap:   chunkOverlap,
		TopK:           topK,
	}, nil
}

// SessionConfig 描述会话生命周期。
type SessionConfig struct {
	IdleTTL     time.Duration
	TurnTimeout time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	idleTTL, err := parseDurationEnv("SESSION_IDLE_TTL", time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}

	// 0 表示不限制单轮对话时长。
	turnTimeout, err := parseDurationEnv("TURN_TIMEOUT", 2*time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}
	if turnTimeout < 0 {
		return SessionConfig{}, fmt.Errorf("invalid TURN_TIMEOUT value %q", os.Getenv("TURN_TIMEOUT"))
	}

	return SessionConfig{IdleTTL: idleTTL, TurnTimeout: turnTimeout}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	File  string
	Level slog.Level
}

func loadLogConfig() LogConfig {
	return LogConfig{
		File:  strings.TrimSpace(os.Getenv("LOG_FILE")),
		Level: parseLogLevel(getEnvOrDefault("LOG_LEVEL", "INFO")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string) []string {
	var items []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if item := strings.TrimSpace(part); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseIntEnvOrDefault(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
