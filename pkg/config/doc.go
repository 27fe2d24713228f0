// Package config loads the service configuration from WARDEN_ environment
// variables. A .env file in the working directory is read first and never
// overrides variables already set.
//
// Server:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_HEALTH_PORT="9090"
//	WARDEN_SHUTDOWN_TIMEOUT="30s"
//
// Storage:
//
//	WARDEN_DB_DRIVER="postgres"            # postgres or sqlite3
//	WARDEN_POSTGRES_URL="postgres://localhost/warden?sslmode=disable"
//	WARDEN_SQLITE_PATH="file:warden.db?cache=shared&_foreign_keys=on"
//	WARDEN_REDIS_URL="redis://localhost:6379"  # empty keeps tokens and ACLs in process
//	WARDEN_L1_CACHE_SIZE="10000"
//
// Auth and RBAC:
//
//	WARDEN_JWT_SECRET="..."                # required, at least 32 bytes
//	WARDEN_ACCESS_TTL="30m"                # at most 30m
//	WARDEN_REFRESH_TTL="168h"
//	WARDEN_BCRYPT_COST="12"
//	WARDEN_ACL_CACHE_TTL="5m"
//	WARDEN_TEMPLATES_FILE="/etc/warden/templates.yaml"
//	WARDEN_TEMPLATES_WATCH="true"
//
// Audit and maintenance:
//
//	WARDEN_AUDIT_ARCHIVE_BUCKET="warden-audit"  # or WARDEN_AUDIT_ARCHIVE_DIR
//	WARDEN_S3_ENDPOINT="http://minio:9000"
//	WARDEN_AUDIT_ARCHIVE_SCHEDULE="15 0 * * *"
//	WARDEN_INTEGRITY_SCHEDULE="@every 1h"
//
// Observability:
//
//	WARDEN_LOG_LEVEL="info"
//	WARDEN_METRICS_ENABLED="true"
//	WARDEN_OTEL_ENABLED="true"
//	WARDEN_OTEL_ENDPOINT="otel-collector:4317"
package config
