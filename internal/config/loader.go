package config

// LoadFromEnv reads configuration from process environment variables,
// after loading .env in dev builds.
func LoadFromEnv() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
	return Load(FromEnviron())
}
