package util

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "fints.util")

// DebugEnabled turns on trace dumps of sent and received messages.
func DebugEnabled() bool {
	return envBool("FINTS_DEBUG")
}

// HttpTraceEnabled makes the HTTP transport log request timings and
// connection reuse for every exchange.
func HttpTraceEnabled() bool {
	return envBool("FINTS_HTTP_TRACE")
}

func envBool(envName string) bool {
	v, ok := os.LookupEnv(envName)
	if !ok {
		return false
	}

	bv, err := strconv.ParseBool(v)

	return err == nil && bv
}

func GetEnvOrFailed(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		logger.Fatal(key, " environment variable is not set")
	}
	return v
}

// GetEnvOrDefault returns def when key is not set or empty.
func GetEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
