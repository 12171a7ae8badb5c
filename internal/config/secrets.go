package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// secretsDir возвращает каталог с секретами. Docker Swarm/Compose монтирует
// секреты в /run/secrets, в локальной разработке каталог переопределяется
// через SECRETS_DIR.
func secretsDir() string {
	if dir := os.Getenv("SECRETS_DIR"); dir != "" {
		return dir
	}
	return "/run/secrets"
}

// readSecret читает обязательный секрет из файла.
func readSecret(name string) (string, error) {
	path := filepath.Join(secretsDir(), name)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("не удалось прочитать секрет %s: %w", name, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("секрет %s пуст", name)
	}
	return value, nil
}

// readOptionalSecret читает секрет, отсутствие которого не является ошибкой.
func readOptionalSecret(name string) string {
	path := filepath.Join(secretsDir(), name)
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
