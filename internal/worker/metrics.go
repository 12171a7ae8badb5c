package worker

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	jobName = "novel_guard_worker"
)

var (
	// Локальный реестр воркера: метрики Pushgateway живут отдельно
	// от default registry, который обслуживает /metrics.
	registry = prometheus.NewRegistry()

	tasksReceived = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "novel_guard_tasks_received_total",
			Help: "Total number of guard tasks received by the worker.",
		},
	)
	tasksFailed = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_guard_tasks_failed_total",
			Help: "Total number of guard tasks failed, partitioned by failure reason.",
		},
		[]string{"reason"},
	)
	tasksSucceeded = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "novel_guard_tasks_succeeded_total",
			Help: "Total number of guard tasks successfully processed.",
		},
	)
	taskDuration = promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "novel_guard_task_duration_seconds",
			Help:    "Histogram of guard task processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		},
	)

	// Pusher для отправки метрик в Pushgateway
	pusher *push.Pusher

	groupingKey map[string]string
)

// InitMetricsPusher инициализирует клиент Pushgateway.
func InitMetricsPusher(pushgatewayURL string) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
		log.Printf("[Metrics] Warning: could not get hostname: %v", err)
	}
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	groupingKey = map[string]string{
		"instance": instanceID,
	}

	log.Printf("[Metrics] Initializing Pushgateway pusher for job '%s' with instance '%s' to %s", jobName, instanceID, pushgatewayURL)
	pusher = push.New(pushgatewayURL, jobName).Gatherer(registry).Grouping("instance", instanceID)

	// Сразу проверяем соединение нулевыми значениями
	if err := pusher.Push(); err != nil {
		return fmt.Errorf("could not push initial metrics to Pushgateway: %w", err)
	}
	return nil
}

// StartMetricsPusher запускает горутину для периодической отправки метрик.
func StartMetricsPusher(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			if pusher == nil {
				ticker.Stop()
				return
			}
			_ = pushMetrics()
		}
	}()
	log.Printf("[Metrics] Started periodic pusher with interval %v", interval)
}

func pushMetrics() error {
	if pusher == nil {
		return errors.New("pusher not initialized")
	}
	if err := pusher.Push(); err != nil {
		log.Printf("[Metrics] Error pushing metrics to Pushgateway: %v", err)
		return err
	}
	return nil
}

// PushMetricsNow принудительно отправляет метрики (вызывается в конце задачи).
func PushMetricsNow() error {
	return pushMetrics()
}

// MetricsIncrementTasksReceived увеличивает счетчик полученных задач.
func MetricsIncrementTasksReceived() {
	tasksReceived.Inc()
}

// MetricsIncrementTaskFailed увеличивает счетчик неудачных задач по причине.
func MetricsIncrementTaskFailed(reason string) {
	tasksFailed.WithLabelValues(reason).Inc()
}

// MetricsIncrementTaskSucceeded увеличивает счетчик успешных задач.
func MetricsIncrementTaskSucceeded() {
	tasksSucceeded.Inc()
}

// MetricsRecordTaskProcessingDuration записывает длительность задачи.
func MetricsRecordTaskProcessingDuration(d time.Duration) {
	taskDuration.Observe(d.Seconds())
}

// CleanupMetrics удаляет метрики этого инстанса из Pushgateway.
// Вызывается через defer в main.
func CleanupMetrics() {
	if pusher == nil {
		return
	}
	log.Printf("[Metrics] Deleting metrics from Pushgateway for job '%s', grouping key: %v", jobName, groupingKey)
	if err := pusher.Delete(); err != nil {
		log.Printf("[Metrics] Error deleting metrics from Pushgateway: %v", err)
	}
}
