// Package config загружает конфигурацию процессов sourcing:
// значения по умолчанию, затем YAML-файл из CONFIG_FILE, затем
// переменные окружения. Невалидная конфигурация — ошибка старта.
package config
