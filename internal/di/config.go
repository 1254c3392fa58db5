package di

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/config"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/secrets"
)

const productionEnvironment = "prod"

// LoadConfig reads the environment, resolves secret:// references through Secret Manager (or the
// local fallback file) and validates the result. The raw environment is returned for build metadata.
func LoadConfig(ctx context.Context, logger *zap.Logger) (config.Config, map[string]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	env, err := config.EnvironmentValues()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("read environment: %w", err)
	}
	lookup := func(key string) string { return strings.TrimSpace(env[key]) }

	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	project := lookup("STORE_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("STORE_FIREBASE_PROJECT_ID")
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path, ok := env["STORE_SECRET_FALLBACK_FILE"]; ok {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if creds := lookup("STORE_FIREBASE_CREDENTIALS_FILE"); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}

	fetcher, err := secrets.NewFetcher(ctx, opts...)
	if err != nil {
		return config.Config{}, env, fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(lookup("STORE_SECURITY_ENVIRONMENT"))...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return config.Config{}, env, err
	}
	return cfg, env, nil
}

// requiredSecretNames lists the credentials a production deployment cannot run without.
func requiredSecretNames(environment string) []string {
	if strings.ToLower(environment) != productionEnvironment {
		return nil
	}
	return []string{"PSP.StripeAPIKey", "PSP.StripeWebhookSecret", "Carrier.APIKey"}
}
