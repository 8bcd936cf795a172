package config

type Config interface {
	EnvConfig
	AuthConfig
	ServerConfig
}

type mainConfig struct {
	EnvVars
	Auth
	Server
}

func New() Config {
	return mainConfig{}
}
