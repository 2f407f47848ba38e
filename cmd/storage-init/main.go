package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/storage"
)

// Provisions the tables and queue the service expects. With SEED_OWNER set it
// also writes that user and an empty board owned by them, which gives a fresh
// environment something to click on.
func main() {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}

	tables := storage.Tables{
		Boards: envDefault("BOARDS_TABLE", "boards"),
		Lists:  envDefault("LISTS_TABLE", "lists"),
		Cards:  envDefault("CARDS_TABLE", "cards"),
		Users:  envDefault("USERS_TABLE", "users"),
	}

	ctx := context.Background()
	if err := createTables(ctx, connStr, []string{tables.Boards, tables.Lists, tables.Cards, tables.Users}); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := createQueues(ctx, connStr, []string{os.Getenv("EVENT_RELAY_QUEUE")}); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	if owner := os.Getenv("SEED_OWNER"); owner != "" {
		if err := seed(ctx, connStr, tables, owner); err != nil {
			log.Fatalf("seed: %v", err)
		}
	}

	log.Info("storage init complete")
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		c := svc.NewClient(name)
		_, err := c.CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
	}
	return nil
}

func seed(ctx context.Context, connStr string, tables storage.Tables, ownerID string) error {
	store, err := storage.New(connStr, tables, "")
	if err != nil {
		return err
	}
	if err := store.UpsertUser(ctx, domain.User{ID: ownerID, Name: envDefault("SEED_OWNER_NAME", "Demo owner")}); err != nil {
		return err
	}
	now := time.Now().UTC()
	board := domain.Board{
		ID:        uuid.NewString(),
		Title:     envDefault("SEED_BOARD_TITLE", "Getting started"),
		Owner:     ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.UpsertBoard(ctx, board); err != nil {
		return err
	}
	log.WithFields(log.Fields{"board": board.ID, "owner": ownerID}).Info("seeded demo board")
	return nil
}
