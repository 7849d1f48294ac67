// Package config loads server and database settings from an optional
// config.yaml plus QUIVER_-prefixed environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Database holds the postgres connection settings.
type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Server holds the HTTP listener settings.
type Server struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Config is the full runtime configuration.
type Config struct {
	Database       Database
	Server         Server
	MigrationsPath string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database: Database{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			DBName:   "quiver",
			SSLMode:  "disable",
		},
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000"},
		},
		MigrationsPath: "./migrations",
	}
}

// Load reads config.yaml from configPath and applies environment overrides
// like QUIVER_DATABASE_HOST. A missing config file is not an error.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("QUIVER")

	v.BindEnv("database.host", "QUIVER_DATABASE_HOST")
	v.BindEnv("database.port", "QUIVER_DATABASE_PORT")
	v.BindEnv("database.user", "QUIVER_DATABASE_USER")
	v.BindEnv("database.password", "QUIVER_DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "QUIVER_DATABASE_DBNAME")
	v.BindEnv("database.sslmode", "QUIVER_DATABASE_SSLMODE")
	v.BindEnv("server.addr", "QUIVER_SERVER_ADDR")
	v.BindEnv("migrations.path", "QUIVER_MIGRATIONS_PATH")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowedOrigins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowedOrigins")
	}
	if v.IsSet("migrations.path") {
		cfg.MigrationsPath = v.GetString("migrations.path")
	}

	return cfg, nil
}

// DSN renders the postgres connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
