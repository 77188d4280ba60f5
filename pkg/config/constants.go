package config

const (
	EnvPrefix = "LACAJA"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)
