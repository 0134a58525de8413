package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/voice-orchestrator/internal/agents"
	"github.com/wolfman30/voice-orchestrator/internal/analytics"
	appconfig "github.com/wolfman30/voice-orchestrator/internal/config"
	"github.com/wolfman30/voice-orchestrator/pkg/logging"
)

// Record log backends accepted by RECORD_LOG_BACKEND.
const (
	RecordLogPostgres = "postgres"
	RecordLogDynamoDB = "dynamodb"
	RecordLogMemory   = "memory"
)

// BuildDirectory loads agent profiles from AGENTS_FILE, or the built-in set
// when unset. Any error here is a *agents.ConfigurationError and must fail boot.
func BuildDirectory(cfg *appconfig.Config) (*agents.Directory, error) {
	profiles := agents.DefaultProfiles()
	if path := strings.TrimSpace(cfg.AgentsFile); path != "" {
		loaded, err := agents.LoadFile(path)
		if err != nil {
			return nil, err
		}
		profiles = loaded
	}
	lang, ok := agents.ParseLanguage(cfg.DefaultLanguage)
	if !ok {
		return nil, &agents.ConfigurationError{Reason: fmt.Sprintf("DEFAULT_LANGUAGE %q is not supported", cfg.DefaultLanguage)}
	}
	return agents.NewDirectory(profiles, lang)
}

// RecordLogDeps carries the storage clients a record log backend may need.
type RecordLogDeps struct {
	Pool   *pgxpool.Pool
	Dynamo *dynamodb.Client
}

// BuildRecordLog picks the durable CompletedCallRecord log.
func BuildRecordLog(cfg *appconfig.Config, deps RecordLogDeps, logger *logging.Logger) (analytics.RecordLog, error) {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.RecordLogBackend {
	case RecordLogPostgres:
		if deps.Pool == nil {
			return nil, fmt.Errorf("bootstrap: record log backend %q requires DATABASE_URL", cfg.RecordLogBackend)
		}
		logger.Info("call records stored in postgres")
		return analytics.NewPostgresRecordLog(deps.Pool), nil
	case RecordLogDynamoDB:
		if deps.Dynamo == nil {
			return nil, fmt.Errorf("bootstrap: record log backend %q requires a dynamodb client", cfg.RecordLogBackend)
		}
		if strings.TrimSpace(cfg.CallRecordsTable) == "" {
			return nil, fmt.Errorf("bootstrap: CALL_RECORDS_TABLE is required for dynamodb")
		}
		logger.Info("call records stored in dynamodb", "table", cfg.CallRecordsTable)
		return analytics.NewDynamoRecordLog(deps.Dynamo, cfg.CallRecordsTable), nil
	case RecordLogMemory, "":
		logger.Warn("call records kept in memory; analytics will not survive a restart")
		return analytics.NewMemoryRecordLog(), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown record log backend %q", cfg.RecordLogBackend)
	}
}

// LoadLocation resolves ANALYTICS_TIMEZONE.
func LoadLocation(cfg *appconfig.Config) (*time.Location, error) {
	name := strings.TrimSpace(cfg.AnalyticsTimezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load analytics timezone %q: %w", name, err)
	}
	return loc, nil
}
