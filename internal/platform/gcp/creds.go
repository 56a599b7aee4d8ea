// Package gcp builds the client options shared by the Google Cloud clients
// (Speech, Storage).
package gcp

import (
	"os"
	"strings"

	"google.golang.org/api/option"
)

// ClientOptionsFromEnv reads GOOGLE_APPLICATION_CREDENTIALS_JSON (inline
// JSON) or GOOGLE_APPLICATION_CREDENTIALS (a file path), plus an optional
// GOOGLE_CLOUD_QUOTA_PROJECT. With neither set, the clients fall back to
// application default credentials.
func ClientOptionsFromEnv(extra ...option.ClientOption) []option.ClientOption {
	opts := []option.ClientOption{}
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	switch {
	case creds == "":
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	default:
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	if qp := strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_QUOTA_PROJECT")); qp != "" {
		opts = append(opts, option.WithQuotaProject(qp))
	}
	return append(opts, extra...)
}
