package config

// ConfigBackend abstracts persistent config storage.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// SecretStore holds credentials outside the main config file.
type SecretStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}
