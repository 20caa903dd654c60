package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/dcrodman/parley/internal/network"
)

// Config contains all of the configuration options available to the server, the
// client and the chat service.
type Config struct {
	Server struct {
		// Address (host:port) on which the server listens for connections.
		Address string `mapstructure:"address"`
		// Token clients must present to authenticate. Blank disables the check.
		AuthToken string `mapstructure:"auth_token"`
		// How long a new connection has to authenticate before it's dropped.
		AuthTimeout time.Duration `mapstructure:"auth_timeout"`
	} `mapstructure:"server"`

	Client struct {
		// Address of the server to connect to.
		Address string `mapstructure:"address"`
		// Name claimed when authenticating.
		Identity  string `mapstructure:"identity"`
		AuthToken string `mapstructure:"auth_token"`
		// Keep reconnecting after losing (or failing to establish) the connection.
		Reconnect   bool          `mapstructure:"reconnect"`
		RetryDelay  time.Duration `mapstructure:"retry_delay"`
		DialTimeout time.Duration `mapstructure:"dial_timeout"`
	} `mapstructure:"client"`

	Network struct {
		// Largest frame, length prefix excluded, either side will read or write.
		MaxFrameLength int `mapstructure:"max_frame_length"`
		// Number of frames that can wait to be written on each connection.
		SendBuffer int `mapstructure:"send_buffer"`
		// How long a request waits for its reply.
		ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	} `mapstructure:"network"`

	Logging struct {
		// Minimum level of a log required to be written. Options: trace, debug, info, warn, error
		Level string `mapstructure:"level"`
		// Full path to file to which logs will be written. Blank will write to stdout.
		FilePath string `mapstructure:"file_path"`
		// Log every packet sent and received.
		PacketLogging bool `mapstructure:"packet_logging"`
	} `mapstructure:"logging"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		// Address of the HTTP listener serving /metrics.
		Address string `mapstructure:"address"`
	} `mapstructure:"metrics"`

	Chat struct {
		// Number of messages kept available to History requests.
		HistorySize int            `mapstructure:"history_size"`
		Database    DatabaseConfig `mapstructure:"database"`
	} `mapstructure:"chat"`
}

// DatabaseConfig selects and locates the database chat history is stored in.
type DatabaseConfig struct {
	// Either sqlite or postgres.
	Engine string `mapstructure:"engine"`
	// Path to the sqlite database file, or :memory:.
	Filename string `mapstructure:"filename"`
	// Hostname of the Postgres database instance.
	Host string `mapstructure:"host"`
	// Port on Host on which the Postgres instance is accepting connections.
	Port int `mapstructure:"port"`
	// Name of the database in Postgres.
	Name string `mapstructure:"name"`
	// Username and password of a user with full RW privileges to Name.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// Set to verify-full if the Postgres instance supports SSL.
	SSLMode string `mapstructure:"ssl_mode"`
}

const envVarPrefix = "PARLEY"

// Every key has a default so that AllKeys, and with it the environment binding
// below, covers options missing from the config file.
var defaults = map[string]interface{}{
	"server.address":           ":7410",
	"server.auth_token":        "",
	"server.auth_timeout":      network.DefaultAuthTimeout,
	"client.address":           "localhost:7410",
	"client.identity":          "",
	"client.auth_token":        "",
	"client.reconnect":         true,
	"client.retry_delay":       network.DefaultRetryDelay,
	"client.dial_timeout":      network.DefaultDialTimeout,
	"network.max_frame_length": network.DefaultMaxFrameLength,
	"network.send_buffer":      network.DefaultSendBuffer,
	"network.response_timeout": network.DefaultResponseTimeout,
	"logging.level":            "info",
	"logging.file_path":        "",
	"logging.packet_logging":   false,
	"metrics.enabled":          false,
	"metrics.address":          ":9105",
	"chat.history_size":        50,
	"chat.database.engine":     "sqlite",
	"chat.database.filename":   "parley.db",
	"chat.database.host":       "localhost",
	"chat.database.port":       5432,
	"chat.database.name":       "parley",
	"chat.database.username":   "",
	"chat.database.password":   "",
	"chat.database.ssl_mode":   "disable",
}

// LoadConfig reads config.yaml from configPath on top of the defaults. A missing
// file isn't an error; every option can also be set through the environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	for k, value := range defaults {
		v.SetDefault(k, value)
	}

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, chat.database.host can be set using: PARLEY_CHAT_DATABASE_HOST
	for _, k := range v.AllKeys() {
		envVar := envVarPrefix + "_" + strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	return config, nil
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a Postgres connection string generated from the config values.
func (c DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Host,
		c.Port,
		c.Name,
		c.Username,
		c.Password,
		c.SSLMode,
	)
}

// networkOptions returns the options shared by clients and servers.
func (c *Config) networkOptions(logger logrus.FieldLogger, metrics *network.Metrics) []network.Option {
	opts := []network.Option{
		network.WithLogger(logger),
		network.WithMaxFrameLength(c.Network.MaxFrameLength),
		network.WithSendBuffer(c.Network.SendBuffer),
		network.WithResponseTimeout(c.Network.ResponseTimeout),
		network.WithPacketLogging(c.Logging.PacketLogging),
	}
	if metrics != nil {
		opts = append(opts, network.WithMetrics(metrics))
	}
	return opts
}

// ServerOptions converts the server and network sections into server options.
func (c *Config) ServerOptions(logger logrus.FieldLogger, metrics *network.Metrics) []network.Option {
	opts := append(c.networkOptions(logger, metrics), network.WithAuthTimeout(c.Server.AuthTimeout))
	if c.Server.AuthToken != "" {
		opts = append(opts, network.WithAuthToken([]byte(c.Server.AuthToken)))
	}
	return opts
}

// ClientOptions converts the client and network sections into client options.
func (c *Config) ClientOptions(logger logrus.FieldLogger, metrics *network.Metrics) []network.Option {
	opts := append(c.networkOptions(logger, metrics),
		network.WithReconnect(c.Client.Reconnect),
		network.WithRetryDelay(c.Client.RetryDelay),
		network.WithDialTimeout(c.Client.DialTimeout),
	)
	if c.Client.AuthToken != "" {
		opts = append(opts, network.WithAuthToken([]byte(c.Client.AuthToken)))
	}
	return opts
}
