package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	RPCURL                 string
	PrivateKey             string
	FlowFactoryAddress     string
	ApprovalManagerAddress string
	MNEETokenAddress       string
	DBPath                 string
	DBDSN                  string
	HTTPAddr               string
	RedisAddr              string
	OtelEndpoint           string
	KafkaBrokers           []string
	KafkaTopic             string
	PollInterval           time.Duration
	ReconcileInterval      time.Duration
	CacheTTL               time.Duration
	LogLevel               string
	LogFile                string
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL, ok := source.Lookup("RPC_URL")
	if !ok || rpcURL == "" {
		return Config{}, errors.New("RPC_URL is required")
	}

	privateKey, _ := source.Lookup("PRIVATE_KEY")
	privateKey = strings.TrimPrefix(strings.TrimSpace(privateKey), "0x")

	factory, _ := source.Lookup("FLOW_FACTORY_ADDRESS")
	approvalManager, _ := source.Lookup("APPROVAL_MANAGER_ADDRESS")
	token, _ := source.Lookup("MNEE_TOKEN_ADDRESS")

	dbPath, ok := source.Lookup("DB_PATH")
	if !ok || strings.TrimSpace(dbPath) == "" {
		dbPath = "payflow.db"
	}
	dbDSN, _ := source.Lookup("DB_DSN")

	httpAddr := ":8080"
	if raw, ok := source.Lookup("HTTP_ADDR"); ok && raw != "" {
		httpAddr = raw
	}

	redisAddr := ""
	if raw, ok := source.Lookup("REDIS_ADDR"); ok {
		redisAddr = strings.TrimSpace(raw)
	}

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelEndpoint = strings.TrimSpace(otelEndpoint)

	kafkaBrokers := parseList(source, "KAFKA_BROKERS")
	kafkaTopic, ok := source.Lookup("KAFKA_TOPIC")
	if !ok || kafkaTopic == "" {
		kafkaTopic = "payflow-activity"
	}

	pollInterval, err := parseDurationEnv(source, "POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	reconcileInterval, err := parseDurationEnv(source, "RECONCILE_INTERVAL", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := parseDurationEnv(source, "CACHE_TTL", time.Minute)
	if err != nil {
		return Config{}, err
	}

	logLevel, _ := source.Lookup("LOG_LEVEL")
	logFile, _ := source.Lookup("LOG_FILE")

	return Config{
		RPCURL:                 rpcURL,
		PrivateKey:             privateKey,
		FlowFactoryAddress:     strings.TrimSpace(factory),
		ApprovalManagerAddress: strings.TrimSpace(approvalManager),
		MNEETokenAddress:       strings.TrimSpace(token),
		DBPath:                 dbPath,
		DBDSN:                  strings.TrimSpace(dbDSN),
		HTTPAddr:               httpAddr,
		RedisAddr:              redisAddr,
		OtelEndpoint:           otelEndpoint,
		KafkaBrokers:           kafkaBrokers,
		KafkaTopic:             kafkaTopic,
		PollInterval:           pollInterval,
		ReconcileInterval:      reconcileInterval,
		CacheTTL:               cacheTTL,
		LogLevel:               logLevel,
		LogFile:                logFile,
	}, nil
}

// ContractsDeployed gates write actions: every required contract address
// must be present and well-formed before any transaction is attempted.
func (c Config) ContractsDeployed() bool {
	for _, addr := range []string{c.FlowFactoryAddress, c.ApprovalManagerAddress, c.MNEETokenAddress} {
		if !isHexAddress(addr) {
			return false
		}
	}
	return true
}

// MissingAddresses lists the env keys whose contract addresses are absent
// or malformed, for startup diagnostics.
func (c Config) MissingAddresses() []string {
	var missing []string
	if !isHexAddress(c.FlowFactoryAddress) {
		missing = append(missing, "FLOW_FACTORY_ADDRESS")
	}
	if !isHexAddress(c.ApprovalManagerAddress) {
		missing = append(missing, "APPROVAL_MANAGER_ADDRESS")
	}
	if !isHexAddress(c.MNEETokenAddress) {
		missing = append(missing, "MNEE_TOKEN_ADDRESS")
	}
	return missing
}

func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}

func parseList(source EnvSource, key string) []string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	items := strings.Split(raw, ",")
	var values []string
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	return values
}
