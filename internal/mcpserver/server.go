package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/apresai/dualogue/internal/llm"
	"github.com/apresai/dualogue/internal/persona"
)

// Config holds server configuration.
type Config struct {
	Port         int
	Model        string
	S3Bucket     string // empty disables export uploads
	PublicURL    string // base URL for uploaded objects, e.g. a CDN in front of the bucket
	ArchiveTable string // empty disables the export catalog
	AWSRegion    string
	MaxRuns      int
	SecretPrefix string // e.g. "/dualogue/mcp/"; empty skips Secrets Manager
	PresetsFile  string
}

// DefaultConfig returns a Config populated from environment variables.
func DefaultConfig() Config {
	return Config{
		Port:         envInt("PORT", 8000),
		Model:        envOr("DUALOGUE_MODEL", "haiku"),
		S3Bucket:     envOr("S3_BUCKET", ""),
		PublicURL:    envOr("PUBLIC_URL", ""),
		ArchiveTable: envOr("ARCHIVE_TABLE", ""),
		AWSRegion:    envOr("AWS_REGION", "us-east-1"),
		MaxRuns:      envInt("MAX_RUNS", 5),
		SecretPrefix: envOr("SECRET_PREFIX", ""),
		PresetsFile:  envOr("DUALOGUE_PRESETS", ""),
	}
}

func (c Config) needsAWS() bool {
	return c.S3Bucket != "" || c.ArchiveTable != "" || c.SecretPrefix != ""
}

// Server is the MCP server exposing dialogue sessions as tools.
type Server struct {
	cfg      Config
	mcp      *server.MCPServer
	sessions *SessionManager
	log      *slog.Logger
}

// New creates and configures the MCP server. baseCtx bounds every dialogue
// run and should be cancelled on shutdown.
func New(ctx, baseCtx context.Context, cfg Config, logger *slog.Logger) (*Server, error) {
	var exporter *Exporter
	if cfg.needsAWS() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		otelaws.AppendMiddlewares(&awsCfg.APIOptions)

		if cfg.SecretPrefix != "" {
			loadSecrets(ctx, secretsmanager.NewFromConfig(awsCfg), cfg.SecretPrefix, logger)
		}

		var storage *Storage
		if cfg.S3Bucket != "" {
			storage = NewStorage(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.PublicURL)
		}
		var archive *Archive
		if cfg.ArchiveTable != "" {
			archive = NewArchive(dynamodb.NewFromConfig(awsCfg), cfg.ArchiveTable)
		}
		if storage != nil || archive != nil {
			exporter = &Exporter{Storage: storage, Archive: archive}
		}
	}

	gen, err := llm.NewGenerator(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}

	presets, err := persona.NewLibrary()
	if err != nil {
		return nil, err
	}
	if cfg.PresetsFile != "" {
		if err := presets.LoadFile(cfg.PresetsFile); err != nil {
			return nil, err
		}
	}

	sessions := NewSessionManager(llm.Traced(gen, cfg.Model), presets, exporter, ManagerOptions{
		MaxRuns: cfg.MaxRuns,
		Logger:  logger,
		BaseCtx: baseCtx,
	})

	mcpServer := server.NewMCPServer(
		"dualogue",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	NewHandlers(sessions, logger).Register(mcpServer)

	logger.InfoContext(ctx, "MCP server configured",
		"model", cfg.Model,
		"provider", llm.Provider(cfg.Model),
		"s3_bucket", cfg.S3Bucket,
		"archive_table", cfg.ArchiveTable,
		"max_runs", cfg.MaxRuns)

	return &Server{
		cfg:      cfg,
		mcp:      mcpServer,
		sessions: sessions,
		log:      logger,
	}, nil
}

// Start runs the streamable HTTP MCP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.log.Info("Starting MCP server", "addr", addr)

	httpServer := server.NewStreamableHTTPServer(s.mcp)
	return httpServer.Start(addr)
}

// ServeStdio serves MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	s.log.Info("Starting MCP server on stdio")
	return server.ServeStdio(s.mcp)
}

// Shutdown cancels every active dialogue run and waits for them to stop.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.sessions.Shutdown(ctx)
}

// secretGetter is the slice of the Secrets Manager API used here.
type secretGetter interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// loadSecrets fetches provider API keys from Secrets Manager and exports
// them as env vars. Keys already present in the environment win.
func loadSecrets(ctx context.Context, client secretGetter, prefix string, logger *slog.Logger) {
	for _, envVar := range []string{"ANTHROPIC_API_KEY", "GEMINI_API_KEY"} {
		if os.Getenv(envVar) != "" {
			continue
		}
		secretID := prefix + envVar
		result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(secretID),
		})
		if err != nil {
			logger.InfoContext(ctx, "Secret not found", "secret_id", secretID, "error", err)
			continue
		}
		if result.SecretString != nil {
			os.Setenv(envVar, *result.SecretString)
			logger.InfoContext(ctx, "Loaded secret", "secret_id", secretID)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
