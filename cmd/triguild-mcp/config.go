package main

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "TRIGUILD"

type Config struct {
	ServerURL string `envconfig:"SERVER_URL" default:"http://127.0.0.1:3170"`
	APIKey    string `envconfig:"API_KEY"`
}

func NewConfig() (*Config, error) {
	c := &Config{}
	err := envconfig.Process(envPrefix, c)
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	return c, nil
}
