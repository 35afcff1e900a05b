package config

const (
	// EnvPrefix namespaces every environment variable consumed by the service.
	EnvPrefix = "ordergate"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "ORDERGATE_DB_DSN"
	EnvDBHost = "ORDERGATE_DB_HOST"
	EnvDBUser = "ORDERGATE_DB_USER"
	EnvDBName = "ORDERGATE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
