package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/flowlab/oauth-playground/internal/config"
	"github.com/flowlab/oauth-playground/internal/util"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the name of the rotating log file under the log directory.
const LogFileName = "playground.log"

var (
	setupOnce  sync.Once
	outputMu   sync.Mutex
	fileOutput *lumberjack.Logger
)

// LogFormatter renders one line per entry with sorted fields. Sensitive
// field values are redacted.
type LogFormatter struct{}

// Format implements logrus.Formatter.
func (f *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	level := strings.ToUpper(entry.Level.String())
	if level == "WARNING" {
		level = "WARN"
	}
	message := strings.TrimRight(entry.Message, "\r\n")

	if entry.Caller != nil {
		fmt.Fprintf(b, "[%s] [%-5s] [%s:%d] %s", timestamp, level, filepath.Base(entry.Caller.File), entry.Caller.Line, message)
	} else {
		fmt.Fprintf(b, "[%s] [%-5s] %s", timestamp, level, message)
	}

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := entry.Data[k]
			if util.IsSensitiveKey(k) {
				v = util.RedactedValue
			}
			fmt.Fprintf(b, " %s=%v", k, v)
		}
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// SetupBaseLogger installs the formatter, caller reporting and the console
// hook on the standard logger. It is safe to call more than once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})
		log.AddHook(Console)

		gin.DefaultWriter = log.StandardLogger().Writer()
		gin.DefaultErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
	})
}

// SetLogLevel maps a level name onto logrus. Unknown names select info.
// quiet and silent keep only fatal output.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// ConfigureLogOutput applies the configured level and switches output between
// stdout and a rotating file under cfg.LogDir.
func ConfigureLogOutput(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("logging: nil config")
	}
	SetLogLevel(cfg.LogLevel)
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	outputMu.Lock()
	defer outputMu.Unlock()

	if !cfg.LoggingToFile {
		if fileOutput != nil {
			_ = fileOutput.Close()
			fileOutput = nil
		}
		log.SetOutput(os.Stdout)
		return nil
	}

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	filename := filepath.Join(cfg.LogDir, LogFileName)
	if fileOutput != nil && fileOutput.Filename == filename {
		return nil
	}
	if fileOutput != nil {
		_ = fileOutput.Close()
	}
	fileOutput = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(fileOutput)
	return nil
}
