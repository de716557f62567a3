// Package config handles configuration loading for the registration bot and
// the admin CLI.
//
// # Configuration File
//
// The file is located by ResolvePath, in order:
//
//  1. The --config flag
//  2. The CONFIG_PATH environment variable
//  3. ./config.yml
//
// Files ending in .toml are decoded as TOML, everything else as YAML.
//
// # Environment Variables
//
// Values can reference environment variables with ${VAR_NAME}. In addition
// these variables override the matching keys after the file is decoded:
//
//	BOT_SERVER        bot.server
//	BOT_USERNAME      bot.username
//	BOT_PASSWORD      bot.password
//	BOT_ACCESS_TOKEN  bot.access_token
//	API_BASE_URL      api.base_url
//	API_TOKEN         api.token
//	API_USERNAME      api.username
//	API_PASSWORD      api.password
//	LOGGING_LEVEL     logging.level
//
// # Example
//
//	bot:
//	  server: "https://matrix.example.org"
//	  username: "registration-bot"
//	  password: "${BOT_PASSWORD}"
//	  allowed_users:
//	    - "@admin:example.org"
//	api:
//	  base_url: "https://matrix.example.org"
//	  token: "${API_TOKEN}"
//	  timeout: "10s"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: false
//	  addr: "127.0.0.1:9100"
//	audit:
//	  path: "/var/lib/registration-bot/audit.db"
package config
