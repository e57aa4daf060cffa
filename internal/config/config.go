package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	AIServiceURL string
	DatabaseURL  string
	HTTPPort     string
	LogLevel     string
	JWTSecret    string
	FrontendURL  string
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		AIServiceURL: getEnv("AI_SERVICE_URL", "http://127.0.0.1:8000"),
		DatabaseURL:  getEnv("DATABASE_URL", "repotalk.db"),
		HTTPPort:     getEnv("HTTP_PORT", "5000"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		FrontendURL:  getEnv("FRONTEND_URL", "http://localhost:5173"),
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
