// cmd/worker/main.go
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/leadflow/leadflow-backend/internal/agent"
	"github.com/leadflow/leadflow-backend/internal/db"
	"github.com/leadflow/leadflow-backend/internal/queue"
	"github.com/leadflow/leadflow-backend/internal/repository"
	"github.com/leadflow/leadflow-backend/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	db.Init()

	eventRepo := &repository.EventQueueRepository{DB: db.DB}
	followupRepo := &repository.FollowupRepository{DB: db.DB}
	quotaRepo := &repository.QuotaRepository{DB: db.DB}
	messageRepo := &repository.MessageRepository{DB: db.DB}

	agentURL := os.Getenv("AGENT_URL")
	if agentURL == "" {
		agentURL = "http://localhost:9090"
	}

	var notifier queue.Notifier = queue.LogNotifier{}
	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		amqpNotifier, err := queue.NewAMQPNotifier(amqpURL)
		if err != nil {
			log.Fatal("Failed to connect to RabbitMQ:", err)
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	} else {
		log.Println("⚠️ AMQP_URL not set, notifications go to the log only")
	}

	followupService := &service.FollowupService{
		Followups: followupRepo,
		Events:    eventRepo,
		Quota:     quotaRepo,
		Messages:  messageRepo,
		Sender:    agent.NewClient(agentURL),
		Notifier:  notifier,
	}

	processor := queue.NewProcessor(eventRepo, pollInterval())
	followupService.RegisterHandlers(processor)
	processor.Start()

	// Small status surface so ops can see the loop is alive.
	r := chi.NewRouter()
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(processor.GetStatus())
	})
	go func() {
		port := os.Getenv("WORKER_PORT")
		if port == "" {
			port = "8081"
		}
		log.Println("Worker status on :" + port)
		if err := http.ListenAndServe(":"+port, r); err != nil {
			log.Println("⚠️ Status server stopped:", err)
		}
	}()

	log.Println("Worker running, waiting for due events...")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	processor.Stop()
}

func pollInterval() time.Duration {
	raw := os.Getenv("POLL_INTERVAL_SECONDS")
	if raw == "" {
		return queue.DefaultPollInterval
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		log.Println("⚠️ Invalid POLL_INTERVAL_SECONDS:", raw)
		return queue.DefaultPollInterval
	}
	return time.Duration(secs) * time.Second
}
