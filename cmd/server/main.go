// cmd/server/main.go
package main

import (
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/leadflow/leadflow-backend/internal/controller"
	"github.com/leadflow/leadflow-backend/internal/db"
	"github.com/leadflow/leadflow-backend/internal/repository"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	// Init DB
	db.Init()

	eventRepo := &repository.EventQueueRepository{DB: db.DB}
	messageRepo := &repository.MessageRepository{DB: db.DB}

	eventController := &controller.EventController{
		Events:   eventRepo,
		Messages: messageRepo,
	}

	r := chi.NewRouter()

	// Trigger routes: other subsystems enqueue follow-up events here.
	r.Post("/events/ai-message-sent", eventController.AIMessageSent)
	r.Post("/events/lead-message-received", eventController.LeadMessageReceived)
	r.Post("/events/lead-opted-out", eventController.LeadOptedOut)
	r.Get("/queue/status", eventController.QueueStatus)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Println("🚀 Server running on :" + port)
	log.Fatal(http.ListenAndServe(":"+port, r))
}
