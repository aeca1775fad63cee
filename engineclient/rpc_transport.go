package engineclient

import (
	"context"
	"net/url"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// EngineConfig is the identity of a single engine endpoint
type EngineConfig struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	JWTSecret     string `yaml:"jwt_secret"`
	JWTSecretFile string `yaml:"jwt_secret_file"`
}

// DisplayName is the configured name, or the endpoint host
func (cfg EngineConfig) DisplayName() string {
	if cfg.Name != "" {
		return cfg.Name
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return cfg.URL
	}
	return u.Host
}

func (cfg EngineConfig) secret() ([]byte, error) {
	if cfg.JWTSecretFile != "" {
		return LoadJWTSecret(cfg.JWTSecretFile)
	}
	return ParseJWTSecret(cfg.JWTSecret)
}

// NewRPCTransport dials the engine endpoint, authenticating every request with a jwt signed by secret
func NewRPCTransport(ctx context.Context, endpoint string, secret []byte) (*rpc.Client, error) {
	return rpc.DialOptions(ctx, endpoint, rpc.WithHTTPAuth(NewJWTAuth(secret)))
}

// NewEngineHandleFromConfig loads the secret and dials the endpoint. Dialing http endpoints does not
// open a connection, an unreachable engine shows up as Offline on the first call.
func NewEngineHandleFromConfig(ctx context.Context, log *logrus.Entry, cfg EngineConfig) (*EngineHandle, error) {
	secret, err := cfg.secret()
	if err != nil {
		return nil, err
	}

	transport, err := NewRPCTransport(ctx, cfg.URL, secret)
	if err != nil {
		return nil, err
	}
	return NewEngineHandle(log, cfg.DisplayName(), transport), nil
}
