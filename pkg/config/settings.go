package config

import (
	"strings"
	"time"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/identity"
	"github.com/go-go-golems/palaver/pkg/reply"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Mode string

const (
	ModeEphemeral Mode = "ephemeral"
	ModeRemote    Mode = "remote"
)

type Provider string

const (
	ProviderEcho   Provider = "echo"
	ProviderOpenAI Provider = "openai"
)

const (
	DefaultServerURL = "http://localhost:8787"
	DefaultListen    = ":8787"
	DefaultDatabase  = "sqlite://palaver.db"
)

// ClientSettings configure the chat client side: where conversations live and
// who produces replies.
type ClientSettings struct {
	Mode        Mode
	ServerURL   string
	User        string
	Timeout     time.Duration
	ReadRetries int

	Provider Provider
	OpenAI   reply.OpenAISettings
}

// ServerSettings configure `palaver serve`.
type ServerSettings struct {
	Listen          string
	Database        string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

func AddClientFlags(fs *pflag.FlagSet) {
	fs.String("mode", string(ModeEphemeral), "Where conversations are kept (ephemeral, remote)")
	fs.String("server-url", DefaultServerURL, "Base URL of the palaver service (remote mode)")
	fs.String("user", "", "User to sign in as at startup (remote mode)")
	fs.Duration("timeout", 10*time.Second, "Timeout for calls to the palaver service")
	fs.Int("read-retries", 2, "How often to retry failed reads from the palaver service")
	fs.String("provider", string(ProviderEcho), "Reply provider (echo, openai)")
	fs.String("openai-api-key", "", "OpenAI API key")
	fs.String("openai-base-url", "", "OpenAI base URL")
	fs.String("openai-model", reply.DefaultOpenAIModel, "OpenAI chat model")
	fs.String("system-prompt", "", "System prompt sent ahead of every conversation")
}

func AddServerFlags(fs *pflag.FlagSet) {
	fs.String("listen", DefaultListen, "Address to listen on")
	fs.String("db", DefaultDatabase, "Database DSN (sqlite://path or postgres://...)")
	fs.StringSlice("allowed-origins", []string{"*"}, "CORS allowed origins")
	fs.Duration("shutdown-timeout", 10*time.Second, "Grace period for in-flight requests on shutdown")
}

func ClientSettingsFromViper(v *viper.Viper) (*ClientSettings, error) {
	ret := &ClientSettings{
		Mode:        Mode(strings.ToLower(v.GetString("mode"))),
		ServerURL:   v.GetString("server-url"),
		User:        v.GetString("user"),
		Timeout:     v.GetDuration("timeout"),
		ReadRetries: v.GetInt("read-retries"),
		Provider:    Provider(strings.ToLower(v.GetString("provider"))),
		OpenAI: reply.OpenAISettings{
			APIKey:       v.GetString("openai-api-key"),
			BaseURL:      v.GetString("openai-base-url"),
			Model:        v.GetString("openai-model"),
			SystemPrompt: v.GetString("system-prompt"),
		},
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *ClientSettings) Validate() error {
	switch s.Mode {
	case ModeEphemeral:
	case ModeRemote:
		if s.ServerURL == "" {
			return errors.New("remote mode needs --server-url")
		}
	default:
		return errors.Errorf("unknown mode %q", s.Mode)
	}
	switch s.Provider {
	case ProviderEcho:
	case ProviderOpenAI:
		if s.OpenAI.APIKey == "" {
			return errors.New("the openai provider needs --openai-api-key")
		}
	default:
		return errors.Errorf("unknown provider %q", s.Provider)
	}
	if s.Timeout <= 0 {
		return errors.Errorf("timeout must be positive, got %s", s.Timeout)
	}
	if s.ReadRetries < 0 {
		return errors.Errorf("read-retries must not be negative, got %d", s.ReadRetries)
	}
	return nil
}

// BackendFactory returns the backend for an identity. Ephemeral mode gives
// every identity its own in-memory collection.
func (s *ClientSettings) BackendFactory() identity.BackendFactory {
	return func(id *identity.Identity) (backend.Backend, error) {
		if s.Mode == ModeEphemeral {
			return backend.NewMemory(), nil
		}
		r, err := backend.NewRemote(s.ServerURL,
			backend.WithUser(id.UserID),
			backend.WithTimeout(s.Timeout),
			backend.WithReadRetries(s.ReadRetries, 200*time.Millisecond),
		)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// Generator returns the configured reply generator.
func (s *ClientSettings) Generator() (reply.Generator, error) {
	switch s.Provider {
	case ProviderOpenAI:
		return reply.NewOpenAI(s.OpenAI)
	default:
		return &reply.Echo{}, nil
	}
}

func ServerSettingsFromViper(v *viper.Viper) (*ServerSettings, error) {
	ret := &ServerSettings{
		Listen:          v.GetString("listen"),
		Database:        v.GetString("db"),
		AllowedOrigins:  v.GetStringSlice("allowed-origins"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
	}
	if ret.Listen == "" {
		return nil, errors.New("--listen must not be empty")
	}
	if ret.Database == "" {
		return nil, errors.New("--db must not be empty")
	}
	return ret, nil
}
