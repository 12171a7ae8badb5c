package messaging

import (
	"novel-guard/internal/model"
)

// GuardTaskPayload - структура сообщения для задачи охраняемой генерации
type GuardTaskPayload struct {
	TaskID       string                `json:"taskId"`                 // Уникальный ID задачи
	UserID       string                `json:"userId"`                 // ID пользователя, инициировавшего задачу
	SceneID      string                `json:"sceneId"`                // ID сцены в новелле
	SystemPrompt string                `json:"systemPrompt,omitempty"` // Системный промпт для AI
	ScenePrompt  string                `json:"scenePrompt"`            // Пользовательский промпт сцены
	Scene        model.SceneDescriptor `json:"scene"`                  // Дескриптор сцены (условие конца, ростер персонажей)
	Policy       string                `json:"policy,omitempty"`       // strict | lenient; пусто = политика по умолчанию
}

// NotificationStatus - статус завершения задачи для уведомления
type NotificationStatus string

const (
	NotificationStatusSuccess NotificationStatus = "success"
	NotificationStatusError   NotificationStatus = "error"
)

// NotificationPayload - данные, отправляемые в очередь уведомлений
type NotificationPayload struct {
	TaskID              string             `json:"taskId"`                        // ID исходной задачи
	UserID              string             `json:"userId"`                        // ID пользователя для уведомления
	SceneID             string             `json:"sceneId,omitempty"`             // ID сцены, для которой шла генерация
	Status              NotificationStatus `json:"status"`                        // Статус (success/error)
	GeneratedText       string             `json:"generatedText,omitempty"`       // Итоговый текст сцены (при успехе)
	WasTerminated       bool               `json:"wasTerminated"`                 // Генерация остановлена охранником
	TerminationReason   string             `json:"terminationReason,omitempty"`   // Причина остановки
	EndConditionReached bool               `json:"endConditionReached"`           // Достигнуто ли условие конца сцены
	ViolationCount      int                `json:"violationCount"`                // Количество зафиксированных нарушений
	ErrorDetails        string             `json:"errorDetails,omitempty"`        // Детали ошибки (при ошибке)
}
