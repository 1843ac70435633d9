// Package config loads and validates the pipepulse-server configuration from
// the `server:` section of config.yaml. Secrets (webhook URLs, SMTP
// credentials) are never stored in the file itself — the file names
// environment variables and the accessors resolve them at read time.
package config
