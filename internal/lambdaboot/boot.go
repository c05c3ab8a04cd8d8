// Package lambdaboot holds the cold-start bootstrap of the highlights
// Lambda: AWS config, S3, the DynamoDB request store, the Gemini key from
// SSM and the start-up summary log.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/highlight-generator/internal/logging"
	"github.com/fpang/highlight-generator/internal/store"
)

// DefaultGeminiKeyParam is the SSM parameter read when SSM_API_KEY_PARAM
// is unset.
const DefaultGeminiKeyParam = "/video-highlights/prod/gemini-api-key"

// AWSClients holds the core AWS SDK clients.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds the S3 client, presigner and bucket name.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    string
}

// ParamAPI is the subset of *ssm.Client used to read parameters.
type ParamAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an S3 client and presigner and reads the bucket name from
// bucketEnvVar. Fatals if the variable is empty.
func InitS3(cfg aws.Config, bucketEnvVar string) S3Clients {
	client := s3.NewFromConfig(cfg)
	bucket := os.Getenv(bucketEnvVar)
	if bucket == "" {
		log.Fatal().Str("envVar", bucketEnvVar).Msg("Bucket environment variable is required")
	}
	return S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    bucket,
	}
}

// InitDynamoOptional creates the request store if tableEnvVar is set and
// returns nil with a warning otherwise.
func InitDynamoOptional(cfg aws.Config, tableEnvVar string) *store.DynamoStore {
	tableName := os.Getenv(tableEnvVar)
	if tableName == "" {
		log.Warn().Str("envVar", tableEnvVar).Msg("DynamoDB table not set, request tracking disabled")
		return nil
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// GeminiKeyParam returns the SSM parameter holding the Gemini API key.
func GeminiKeyParam() string {
	return logging.EnvOrDefault("SSM_API_KEY_PARAM", DefaultGeminiKeyParam)
}

// FetchGeminiKey returns GEMINI_API_KEY if set, otherwise reads the
// decrypted key from SSM and exports it to the environment.
func FetchGeminiKey(ctx context.Context, api ParamAPI) (string, error) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key, nil
	}
	paramName := GeminiKeyParam()
	ssmStart := time.Now()
	result, err := api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read %s from SSM: %w", paramName, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil || *result.Parameter.Value == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", paramName)
	}
	os.Setenv("GEMINI_API_KEY", *result.Parameter.Value)
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Gemini API key loaded from SSM")
	return *result.Parameter.Value, nil
}

// LoadGeminiKey is FetchGeminiKey for init(): it fatals on error.
func LoadGeminiKey(ssmClient *ssm.Client) string {
	key, err := FetchGeminiKey(context.Background(), ssmClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load Gemini API key")
	}
	return key
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
