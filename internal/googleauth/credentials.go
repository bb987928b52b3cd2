package googleauth

import (
	"context"
	"fmt"
	"log"
	"os"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CredentialSource lists where the OAuth client id and secret may come from.
type CredentialSource struct {
	ClientID       string
	ClientSecret   string
	SecretProject  string // GCP project for Secret Manager
	SecretName     string // Secret Manager secret holding the client JSON
	CredentialFile string // Local client JSON (fallback)
	RedirectURL    string
}

// LoadConfig builds the OAuth2 configuration.
// Priority: 1) explicit client id/secret, 2) Secret Manager, 3) local file.
func LoadConfig(ctx context.Context, src CredentialSource) (*oauth2.Config, error) {
	if src.ClientID != "" && src.ClientSecret != "" {
		return &oauth2.Config{
			ClientID:     src.ClientID,
			ClientSecret: src.ClientSecret,
			RedirectURL:  src.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       Scopes,
		}, nil
	}

	var credentialsJSON []byte
	var err error

	if src.SecretProject != "" && src.SecretName != "" {
		credentialsJSON, err = loadFromSecretManager(ctx, src.SecretProject, src.SecretName)
		if err != nil {
			log.Printf("Failed to load credentials from Secret Manager: %v", err)
		} else {
			log.Printf("OAuth credentials loaded from Secret Manager: %s/%s", src.SecretProject, src.SecretName)
		}
	}

	if credentialsJSON == nil && src.CredentialFile != "" {
		credentialsJSON, err = os.ReadFile(src.CredentialFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file %s: %w", src.CredentialFile, err)
		}
		log.Printf("OAuth credentials loaded from file: %s", src.CredentialFile)
	}

	if credentialsJSON == nil {
		return nil, fmt.Errorf("no OAuth credentials available: configure client id/secret, Secret Manager or credential file")
	}

	config, err := google.ConfigFromJSON(credentialsJSON, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OAuth credentials: %w", err)
	}
	if src.RedirectURL != "" {
		config.RedirectURL = src.RedirectURL
	}
	return config, nil
}

// loadFromSecretManager reads the latest version of a secret.
func loadFromSecretManager(ctx context.Context, project, name string) ([]byte, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	defer client.Close()

	secretPath := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, name)
	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access secret %s: %w", secretPath, err)
	}

	return result.Payload.Data, nil
}
