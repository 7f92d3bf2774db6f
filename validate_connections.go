package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5"
	"gopkg.in/yaml.v3"
)

// Standalone probe: checks that the PostgreSQL and Kafka endpoints in
// config.yaml are reachable before deploying the proxy against them.
// Run with: go run validate_connections.go

type probeConfig struct {
	Storage struct {
		Driver string `yaml:"driver"`
	} `yaml:"storage"`
	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Name     string `yaml:"name"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"database"`
	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
	} `yaml:"kafka"`
}

func main() {
	configData, err := os.ReadFile("config.yaml")
	if err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}

	var config probeConfig
	if err := yaml.Unmarshal(configData, &config); err != nil {
		log.Fatalf("Failed to parse config: %v", err)
	}

	fmt.Println("Validating service connections...")

	if config.Storage.Driver == "postgres" {
		fmt.Print("Testing PostgreSQL connection... ")
		dbURL := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conn, err := pgx.Connect(ctx, dbURL)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
		} else {
			defer conn.Close(ctx)
			var result string
			err = conn.QueryRow(ctx, "SELECT 'PostgreSQL connection successful'").Scan(&result)
			if err != nil {
				fmt.Printf("query FAILED: %v\n", err)
			} else {
				fmt.Printf("OK: %s\n", result)
			}
		}
	} else {
		fmt.Println("Storage driver is memory, skipping PostgreSQL check")
	}

	if config.Kafka.Enabled {
		fmt.Print("Testing Kafka connection... ")
		kafkaConfig := sarama.NewConfig()
		kafkaConfig.Version = sarama.V2_6_0_0
		kafkaConfig.Net.DialTimeout = 10 * time.Second

		client, err := sarama.NewClient(config.Kafka.Brokers, kafkaConfig)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
		} else {
			defer client.Close()
			fmt.Printf("OK: connected to %d Kafka brokers\n", len(client.Brokers()))
		}
	} else {
		fmt.Println("Kafka relay disabled, skipping broker check")
	}

	fmt.Println("Connection validation complete")
}
