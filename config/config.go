package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type LLMConfig struct {
	Model       string  `yaml:"model" mapstructure:"model"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature"`
}

type EmbeddingConfig struct {
	Model     string `yaml:"model" mapstructure:"model"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
	// Rate caps embedding calls per second, 0 is unlimited
	Rate float64 `yaml:"rate" mapstructure:"rate"`
}

type ChunkConfig struct {
	// Strategy is "fixed", "semantic" or "markdown". markdown cuts at
	// headings and repeats the heading path on every chunk.
	Strategy string `yaml:"strategy" mapstructure:"strategy"`
	Size     int    `yaml:"size" mapstructure:"size"`
	Overlap  int    `yaml:"overlap" mapstructure:"overlap"`
	// Tokenizer is a tiktoken encoding name, empty measures in runes
	Tokenizer string `yaml:"tokenizer" mapstructure:"tokenizer"`
	// MaxHeadingLevel bounds the headings markdown splits on, default 4
	MaxHeadingLevel int `yaml:"max_heading_level" mapstructure:"max_heading_level"`
}

type IngestConfig struct {
	HeadSize       int `yaml:"head_size" mapstructure:"head_size"`
	SegmentSize    int `yaml:"segment_size" mapstructure:"segment_size"`
	Retries        int `yaml:"retries" mapstructure:"retries"`
	BackoffSeconds int `yaml:"backoff_seconds" mapstructure:"backoff_seconds"`
}

type QueryConfig struct {
	TopK          int    `yaml:"top_k" mapstructure:"top_k"`
	DocTopK       int    `yaml:"doc_top_k" mapstructure:"doc_top_k"`
	RerankEnabled bool   `yaml:"rerank_enabled" mapstructure:"rerank_enabled"`
	RerankURL     string `yaml:"rerank_url" mapstructure:"rerank_url"`
	MaxKnowledge  int    `yaml:"max_knowledge" mapstructure:"max_knowledge"`
	MaxHistory    int    `yaml:"max_history" mapstructure:"max_history"`
	PromptFile    string `yaml:"prompt_file" mapstructure:"prompt_file"`
	SourcesHeader string `yaml:"sources_header" mapstructure:"sources_header"`
}

type ParserConfig struct {
	OCREnabled bool   `yaml:"ocr_enabled" mapstructure:"ocr_enabled"`
	OCRLang    string `yaml:"ocr_lang" mapstructure:"ocr_lang"`
}

type VectorConfig struct {
	// Backend is "local" or "qdrant"
	Backend          string `yaml:"backend" mapstructure:"backend"`
	QdrantHost       string `yaml:"qdrant_host" mapstructure:"qdrant_host"`
	QdrantPort       int    `yaml:"qdrant_port" mapstructure:"qdrant_port"`
	QdrantAPIKey     string `yaml:"qdrant_api_key" mapstructure:"qdrant_api_key"`
	CollectionPrefix string `yaml:"collection_prefix" mapstructure:"collection_prefix"`
}

type BlobConfig struct {
	// Backend is "local" or "minio"
	Backend       string `yaml:"backend" mapstructure:"backend"`
	Root          string `yaml:"root" mapstructure:"root"`
	Endpoint      string `yaml:"endpoint" mapstructure:"endpoint"`
	Bucket        string `yaml:"bucket" mapstructure:"bucket"`
	AccessKey     string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey     string `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	PresignExpiry int    `yaml:"presign_expiry" mapstructure:"presign_expiry"`
}

type DBConfig struct {
	// Driver is "mysql", "postgres" or empty for the file store
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
	// File keeps documents when Driver is empty. It must live outside
	// working_dir, which is wiped on a dimension change.
	File string `yaml:"file" mapstructure:"file"`
}

type Neo4jConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	URI      string `yaml:"uri" mapstructure:"uri"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

type ExtractConfig struct {
	Concurrency int      `yaml:"concurrency" mapstructure:"concurrency"`
	Rate        float64  `yaml:"rate" mapstructure:"rate"`
	EntityTypes []string `yaml:"entity_types" mapstructure:"entity_types"`
}

type Config struct {
	WorkingDir string          `yaml:"working_dir" mapstructure:"working_dir"`
	Log        logger.Config   `yaml:"log" mapstructure:"log"`
	LLM        LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Embedding  EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Chunk      ChunkConfig     `yaml:"chunk" mapstructure:"chunk"`
	Ingest     IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Query      QueryConfig     `yaml:"query" mapstructure:"query"`
	Parser     ParserConfig    `yaml:"parser" mapstructure:"parser"`
	Vector     VectorConfig    `yaml:"vector" mapstructure:"vector"`
	Blob       BlobConfig      `yaml:"blob" mapstructure:"blob"`
	DB         DBConfig        `yaml:"db" mapstructure:"db"`
	Neo4j      Neo4jConfig     `yaml:"neo4j" mapstructure:"neo4j"`
	Redis      RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Extract    ExtractConfig   `yaml:"extract" mapstructure:"extract"`
}

// Load reads the yaml file at path, a missing file yields defaults.
// A .env next to the working directory is loaded first, then TIGA_* and
// OPENAI_* variables override file values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	if err := applyEnv(cfg, os.Environ()); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Save writes cfg as yaml, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return os.WriteFile(path, data, 0o644)
}

var envAliases = map[string][]string{
	"OPENAI_API_KEY":  {"llm.api_key", "embedding.api_key"},
	"OPENAI_BASE_URL": {"llm.base_url", "embedding.base_url"},
}

// applyEnv maps TIGA_SECTION__FIELD (double underscore between section and
// field) and the OpenAI aliases onto cfg. Explicit TIGA_ keys win.
func applyEnv(cfg *Config, environ []string) error {
	overrides := make(map[string]any)
	set := func(path, value string) {
		parts := strings.Split(path, ".")
		m := overrides
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[p] = next
			}
			m = next
		}
		if strings.Contains(value, ",") && parts[len(parts)-1] == "entity_types" {
			m[parts[len(parts)-1]] = strings.Split(value, ",")
			return
		}
		m[parts[len(parts)-1]] = value
	}

	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok && v != "" {
			env[k] = v
		}
	}
	for alias, paths := range envAliases {
		if v, ok := env[alias]; ok {
			for _, p := range paths {
				set(p, v)
			}
		}
	}
	for k, v := range env {
		name, ok := strings.CutPrefix(k, "TIGA_")
		if !ok {
			continue
		}
		set(strings.ToLower(strings.ReplaceAll(name, "__", ".")), v)
	}
	if len(overrides) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           cfg,
		TagName:          "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "create env decoder")
	}
	return errors.Wrap(decoder.Decode(overrides), "decode env overrides")
}

func applyDefaults(cfg *Config) {
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "./rag_storage"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.BatchSize <= 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Chunk.Strategy == "" {
		cfg.Chunk.Strategy = "fixed"
	}
	if cfg.Chunk.Size <= 0 {
		cfg.Chunk.Size = 1200
	}
	if cfg.Chunk.Overlap <= 0 {
		cfg.Chunk.Overlap = 100
	}
	if cfg.Ingest.HeadSize <= 0 {
		cfg.Ingest.HeadSize = 5000
	}
	if cfg.Ingest.SegmentSize <= 0 {
		cfg.Ingest.SegmentSize = 20000
	}
	if cfg.Ingest.Retries <= 0 {
		cfg.Ingest.Retries = 3
	}
	if cfg.Ingest.BackoffSeconds <= 0 {
		cfg.Ingest.BackoffSeconds = 2
	}
	if cfg.Query.TopK <= 0 {
		cfg.Query.TopK = 60
	}
	if cfg.Query.DocTopK <= 0 {
		cfg.Query.DocTopK = 15
	}
	if cfg.Query.MaxKnowledge <= 0 {
		cfg.Query.MaxKnowledge = 50000
	}
	if cfg.Query.MaxHistory <= 0 {
		cfg.Query.MaxHistory = 10000
	}
	if cfg.Parser.OCRLang == "" {
		cfg.Parser.OCRLang = "chi_sim+eng"
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "local"
	}
	if cfg.Vector.QdrantPort == 0 {
		cfg.Vector.QdrantPort = 6334
	}
	if cfg.Vector.CollectionPrefix == "" {
		cfg.Vector.CollectionPrefix = "tiga"
	}
	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = "local"
	}
	if cfg.Blob.Root == "" {
		cfg.Blob.Root = "./rag_blobs"
	}
	if cfg.DB.Driver == "" && cfg.DB.File == "" {
		cfg.DB.File = "./rag_documents.json"
	}
	if cfg.Blob.Bucket == "" {
		cfg.Blob.Bucket = "knowledge"
	}
	if cfg.Blob.PresignExpiry <= 0 {
		cfg.Blob.PresignExpiry = 3600
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Extract.Concurrency <= 0 {
		cfg.Extract.Concurrency = 4
	}
	if cfg.Extract.Rate <= 0 {
		cfg.Extract.Rate = 5
	}
	if len(cfg.Extract.EntityTypes) == 0 {
		cfg.Extract.EntityTypes = []string{"人物", "组织", "地点", "事件", "概念", "方法", "技术", "物品", "文件", "其他"}
	}
}
