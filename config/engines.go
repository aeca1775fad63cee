package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/flashbots/execution-bridge/engineclient"
	"gopkg.in/yaml.v3"
)

var (
	ErrNoEngineConfig = errors.New("no execution engine configured")
	ErrMissingEngine  = errors.New("engine entry without url")
	ErrDuplicateName  = errors.New("duplicate engine name")
)

// enginesFile is the yaml layout of an engines file:
//
//	engines:
//	  - name: geth
//	    url: http://localhost:8551
//	    jwt_secret_file: /secrets/geth.hex
type enginesFile struct {
	Engines []engineclient.EngineConfig `yaml:"engines"`
}

// LoadEnginesFile reads the ordered list of engine endpoints from a yaml file
func LoadEnginesFile(path string) ([]engineclient.EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseEngines(data)
}

// ParseEngines decodes and checks an engines file. The order of the entries is the configuration order.
func ParseEngines(data []byte) ([]engineclient.EngineConfig, error) {
	file := new(enginesFile)
	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("invalid engines file: %w", err)
	}
	if err := checkEngines(file.Engines); err != nil {
		return nil, err
	}
	return file.Engines, nil
}

// EnginesFromURIs builds engine configs from plain urls sharing one jwt secret
func EnginesFromURIs(uris []string, jwtSecret, jwtSecretFile string) ([]engineclient.EngineConfig, error) {
	engines := make([]engineclient.EngineConfig, 0, len(uris))
	for _, uri := range uris {
		if uri == "" {
			continue
		}
		engines = append(engines, engineclient.EngineConfig{
			URL:           uri,
			JWTSecret:     jwtSecret,
			JWTSecretFile: jwtSecretFile,
		})
	}
	if err := checkEngines(engines); err != nil {
		return nil, err
	}
	return engines, nil
}

func checkEngines(engines []engineclient.EngineConfig) error {
	if len(engines) == 0 {
		return ErrNoEngineConfig
	}
	names := make(map[string]bool, len(engines))
	for i, e := range engines {
		if e.URL == "" {
			return fmt.Errorf("%w: entry %d", ErrMissingEngine, i)
		}
		name := e.DisplayName()
		if names[name] {
			return fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		names[name] = true
	}
	return nil
}
