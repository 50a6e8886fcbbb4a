package config

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/EphraimElvis/coralite-io/internal/errors"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// validateConfig validates configuration values for correctness. The first
// failing field is returned wrapped in a config error.
func validateConfig(config *Config) error {
	checks := []func(*Config) *ValidationError{
		validateServer,
		validateWatch,
		validateTargets,
		validateServe,
		validateLog,
	}

	for _, check := range checks {
		if verr := check(config); verr != nil {
			cerr := errors.NewConfigError(errors.ErrCodeConfigInvalid, verr.Message).
				WithContext("field", verr.Field).
				WithContext("value", verr.Value)
			cerr.Cause = verr

			return cerr
		}
	}

	return nil
}

func validateServer(c *Config) *ValidationError {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &ValidationError{
			Field:       "server.port",
			Value:       c.Server.Port,
			Message:     "port must be between 0 and 65535",
			Suggestions: []string{"use the default port 3000"},
		}
	}
	if strings.ContainsAny(c.Server.Host, " \t\r\n;&|`$") {
		return &ValidationError{
			Field:   "server.host",
			Value:   c.Server.Host,
			Message: "host contains invalid characters",
		}
	}

	return nil
}

func validateWatch(c *Config) *ValidationError {
	for _, p := range c.Watch.Paths {
		if strings.TrimSpace(p) == "" {
			return &ValidationError{Field: "watch.paths", Value: p, Message: "watch path must not be empty"}
		}
	}
	if c.Watch.Debounce < 0 {
		return &ValidationError{Field: "watch.debounce", Value: c.Watch.Debounce, Message: "debounce must not be negative"}
	}

	return nil
}

func validateTargets(c *Config) *ValidationError {
	required := map[string]string{
		"html.pages":   c.HTML.Pages,
		"html.output":  c.HTML.Output,
		"css.filename": c.CSS.Filename,
		"css.input":    c.CSS.Input,
		"css.output":   c.CSS.Output,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Value: value, Message: "must not be empty"}
		}
	}
	if strings.ContainsAny(c.CSS.Filename, `/\`) {
		return &ValidationError{
			Field:       "css.filename",
			Value:       c.CSS.Filename,
			Message:     "filename must be relative to css.input",
			Suggestions: []string{"move the directory part into css.input"},
		}
	}

	return nil
}

func validateServe(c *Config) *ValidationError {
	if c.Serve.AssetsRoot == "" || c.Serve.PagesRoot == "" {
		return &ValidationError{Field: "serve", Message: "assets_root and pages_root are required"}
	}

	prefix := c.Serve.AssetsPrefix
	if !strings.HasPrefix(prefix, "/") || prefix == "/" || strings.HasSuffix(prefix, "/") {
		return &ValidationError{
			Field:       "serve.assets_prefix",
			Value:       prefix,
			Message:     "prefix must start with / and must not end with /",
			Suggestions: []string{DefaultAssetsPrefix},
		}
	}
	if msg := routePathProblem(prefix); msg != "" {
		return &ValidationError{Field: "serve.assets_prefix", Value: prefix, Message: msg}
	}
	if prefix == ClientPath {
		return &ValidationError{Field: "serve.assets_prefix", Value: prefix, Message: "prefix is reserved for the reload client"}
	}

	rebuild := c.Serve.RebuildPath
	if !strings.HasPrefix(rebuild, "/") {
		return &ValidationError{Field: "serve.rebuild_path", Value: rebuild, Message: "path must start with /"}
	}
	if msg := routePathProblem(rebuild); msg != "" {
		return &ValidationError{Field: "serve.rebuild_path", Value: rebuild, Message: msg}
	}
	// Each of these is already routed elsewhere.
	for _, taken := range []string{"/", ClientPath, prefix, prefix + "/"} {
		if rebuild == taken {
			return &ValidationError{
				Field:       "serve.rebuild_path",
				Value:       rebuild,
				Message:     "path collides with the " + taken + " route",
				Suggestions: []string{DefaultRebuildPath},
			}
		}
	}

	for name, cache := range map[string]CacheConfig{
		"serve.assets_cache": c.Serve.AssetsCache,
		"serve.pages_cache":  c.Serve.PagesCache,
	} {
		if cache.MaxFileCount < 0 || cache.MaxFileSize < 0 {
			return &ValidationError{Field: name, Value: cache, Message: "cache limits must not be negative"}
		}
	}

	return nil
}

// routePathProblem describes why p cannot be used literally as a route, or
// returns "" when it can.
func routePathProblem(p string) string {
	if strings.IndexFunc(p, unicode.IsSpace) >= 0 {
		return "path must not contain whitespace"
	}
	if strings.ContainsAny(p, "{}") {
		return "path must not contain { or }"
	}

	return ""
}

func validateLog(c *Config) *ValidationError {
	switch c.Log.Format {
	case "text", "json":
	default:
		return &ValidationError{Field: "log.format", Value: c.Log.Format, Message: "format must be text or json"}
	}

	return nil
}
