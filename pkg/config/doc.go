// Package config loads and validates the service settings.
//
// # Overview
//
// Settings are read once at process start. Values resolve in this order:
// explicit overrides passed to Load, the process environment, a .env file
// (./.env is preferred over /app/.env) and finally built-in defaults.
// Malformed values fail Load with an error naming the variable.
//
// # Configuration Structure
//
// Environment:
//
//	SMS_ENV="development"          # development, staging, production
//	SMS_EXECUTION_MODE="native"    # native, docker
//
// Database:
//
//	DATABASE_ENGINE="sqlite"       # sqlite, postgresql
//	DATABASE_URL=""                # assembled from POSTGRES_* when blank
//	SQLITE_PATH="data/student_management.db"
//
// Authentication:
//
//	AUTH_ENABLED="true"
//	AUTH_MODE="strict"             # disabled, permissive, strict
//	SECRET_KEY="<at least 32 random characters>"
//	AUTH_LOGIN_MAX_ATTEMPTS="5"
//	AUTH_LOGIN_LOCKOUT_SECONDS="300"
//	AUTH_LOGIN_TRACKING_WINDOW_SECONDS="300"
//
// Request pipeline:
//
//	CORS_ORIGINS="http://localhost:5173,https://sms.example.org"
//	CSRF_ENABLED="true"
//	CSRF_HEADER_NAME="X-CSRF-Token"
//	CSRF_COOKIE_SAMESITE="lax"     # lax, strict, none
//	GZIP_MINIMUM_SIZE="1000"
//	TRUSTED_PROXIES="10.0.0.0/8"   # peers allowed to set X-Forwarded-For
//
// # SECRET_KEY policy
//
// A key is insecure when it is empty, a known placeholder, contains
// "change", "placeholder" or "your-secret-key", or is shorter than 32
// characters. With AUTH_ENABLED or SECRET_KEY_STRICT_ENFORCEMENT an
// insecure key fails Load, except under CI or a test runner where a random
// key is generated instead. Otherwise a warning is logged.
//
// # Usage Example
//
//	settings, err := config.Load()
//	if err != nil {
//		logrus.WithError(err).Fatal("invalid configuration")
//	}
//	fmt.Println(settings.Addr(), settings.Database.Engine)
package config
