package config

const (
	keyAppName    = "app_name"
	keyEnv        = "env"
	keyDataFolder = "data_folder"
	keyLogLevel   = "log_level"
)

func (c mainConfig) GetAppName() string {
	return c.v.GetString(keyAppName)
}

func (c mainConfig) GetEnv() string {
	return c.v.GetString(keyEnv)
}

func (c mainConfig) GetDataFolder() string {
	return c.v.GetString(keyDataFolder)
}

func (c mainConfig) GetLogLevel() string {
	return c.v.GetString(keyLogLevel)
}
