package middleware

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/krill0051-hash/tradingview-proxy/internal/config"
)

// LogEntry is the structured access/application log record.
type LogEntry struct {
	Timestamp  string `json:"timestamp"`
	Level      string `json:"level"`
	Component  string `json:"component"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Duration   string `json:"duration,omitempty"`
	ClientIP   string `json:"client_ip,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Logger emits one structured access log line per request.
func Logger(cfg config.LoggingConfig) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		entry := LogEntry{
			Timestamp:  param.TimeStamp.Format(time.RFC3339),
			Level:      "INFO",
			Component:  "http_server",
			Method:     param.Method,
			Path:       param.Path,
			StatusCode: param.StatusCode,
			Duration:   param.Latency.String(),
			ClientIP:   param.ClientIP,
		}
		if param.ErrorMessage != "" {
			entry.Error = param.ErrorMessage
			entry.Level = "ERROR"
		}

		if cfg.Format == "json" {
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Sprintf("%s [%s] %s %s %d %s\n",
					entry.Timestamp, entry.Level, entry.Method, entry.Path, entry.StatusCode, entry.Duration)
			}
			return string(data) + "\n"
		}

		return fmt.Sprintf("%s [%s] %s %s %d %s %s\n",
			entry.Timestamp, entry.Level, entry.Method, entry.Path, entry.StatusCode, entry.Duration, entry.ClientIP)
	})
}

// LogError writes a structured error line to stderr.
func LogError(component, message string, err error) {
	entry := LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     "ERROR",
		Component: component,
		Message:   message,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	data, jsonErr := json.Marshal(entry)
	if jsonErr != nil {
		log.Printf("[ERROR] %s: %s: %v", component, message, err)
		return
	}
	fmt.Fprintln(os.Stderr, string(data))
}

// LogInfo writes a structured info line to stdout.
func LogInfo(component, message string) {
	entry := LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     "INFO",
		Component: component,
		Message:   message,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[INFO] %s: %s", component, message)
		return
	}
	fmt.Println(string(data))
}
